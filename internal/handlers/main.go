package handlers

import (
	"context"
	"fmt"
	"html/template"
	"time"

	minutesui "github.com/MegaGrindStone/minutes-web-ui"
	"github.com/MegaGrindStone/minutes-web-ui/internal/chat"
	"github.com/MegaGrindStone/minutes-web-ui/internal/markdown"
	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
	"github.com/MegaGrindStone/minutes-web-ui/internal/results"
	"github.com/rs/zerolog"
	"github.com/tmaxmax/go-sse"
)

// Archive stores settled exchanges and lists them back for the transcript endpoint.
type Archive interface {
	chat.Archive
	Exchanges(ctx context.Context) ([]models.Exchange, error)
}

// Main serves the result panel and the chat widget. It owns the HTML templates, the server-sent
// events provider used to push incremental updates, and one chat session per browser.
type Main struct {
	sse       *sse.Joe
	templates *template.Template
	md        markdown.Renderer

	asker    chat.Asker
	archive  Archive
	state    *results.State
	greeting string

	sessions    *sessionStore
	maxSessions int
	sessionIdle time.Duration

	logger zerolog.Logger
}

// Option configures Main.
type Option func(*Main)

// SSE event types pushed to the browser.
var (
	messageSSEType   = sse.Type("message")
	chatStateSSEType = sse.Type("chatstate")
	resultsSSEType   = sse.Type("results")
	scrollSSEType    = sse.Type("scroll")
	closeSSEType     = sse.Type("close")
)

// WithArchive makes every session record its exchanges into a, and enables the transcript endpoint.
func WithArchive(a Archive) Option {
	return func(m *Main) {
		m.archive = a
	}
}

// WithGreeting replaces the bot greeting new chat sessions start with.
func WithGreeting(greeting string) Option {
	return func(m *Main) {
		m.greeting = greeting
	}
}

// WithSessionLimits caps the number of browser sessions kept in memory and drops sessions without
// an open event stream after idle. A zero value disables that limit.
func WithSessionLimits(maxSessions int, idle time.Duration) Option {
	return func(m *Main) {
		m.maxSessions = maxSessions
		m.sessionIdle = idle
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Main) {
		m.logger = logger.With().Str("module", "handlers").Logger()
	}
}

// NewMain creates a Main that asks questions through asker and displays the job held by state. It
// parses the HTML templates from the embedded filesystem and subscribes to state so every open page
// is refreshed when the job changes.
func NewMain(asker chat.Asker, state *results.State, opts ...Option) (Main, error) {
	// Templates are split into layout, pages, and partials; partials are also rendered on their own
	// for server-sent updates.
	tmpl, err := template.ParseFS(
		minutesui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		sse:         &sse.Joe{},
		templates:   tmpl,
		md:          markdown.New(),
		asker:       asker,
		state:       state,
		maxSessions: defaultMaxSessions,
		sessionIdle: defaultSessionIdle,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	m.sessions = newSessionStore(m.maxSessions, m.sessionIdle)

	state.Subscribe(m.publishResults)

	return m, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// Shutdown closes every chat session, which aborts answers still streaming, then tells connected
// browsers to close their event streams and waits up to 5 seconds for them to go away.
func (m Main) Shutdown(ctx context.Context) error {
	m.closeSessions(m.sessions.all())

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sse.Shutdown(ctx)
}
