package minutesui

import "embed"

// TemplateFS contains the embedded HTML templates, split into the page layout, full pages, and the
// partial views that are also pushed to the browser on their own as server-sent events.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded stylesheet and the script that applies server-sent updates.
//
//go:embed static/*
var StaticFS embed.FS
