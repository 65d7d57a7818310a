// Package markdown converts the Markdown produced by the analysis pipeline and the query endpoint
// into HTML fragments for the web interface.
package markdown

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer turns Markdown text into HTML. It is safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a Renderer with GitHub flavored extensions and syntax highlighting for fenced code
// blocks. Raw HTML embedded in the source is not passed through.
func New() Renderer {
	return Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				highlighting.NewHighlighting(
					highlighting.WithStyle("github"),
				),
			),
			goldmark.WithRendererOptions(
				gmhtml.WithHardWraps(),
			),
		),
	}
}

// Render converts source into HTML.
func (r Renderer) Render(source string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	// goldmark escapes raw HTML unless WithUnsafe is set, so the output is safe to embed.
	return template.HTML(buf.String()), nil //nolint:gosec
}

// MustRender is like Render, but falls back to the escaped source wrapped in a paragraph when
// conversion fails.
func (r Renderer) MustRender(source string) template.HTML {
	out, err := r.Render(source)
	if err != nil {
		escaped := strings.ReplaceAll(html.EscapeString(source), "\n", "<br>\n")
		return template.HTML("<p>" + escaped + "</p>") //nolint:gosec
	}
	return out
}
