package handlers

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/minutes-web-ui/internal/chat"
	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
	"github.com/MegaGrindStone/minutes-web-ui/internal/results"
	"github.com/tmaxmax/go-sse"
)

type message struct {
	ID        string
	Sender    string
	Content   template.HTML
	Streaming bool
}

type chatBox struct {
	Open     bool
	Messages []message
	Form     chatForm
}

type chatForm struct {
	Busy   bool
	Failed bool
	Error  string
	Seq    uint64
}

type resultsPanel struct {
	View results.View
	Chat chatBox
}

type homePageData struct {
	Results resultsPanel
	Scroll  bool
}

// HandleHome renders the page with the result panel for the current job. The chat widget is only
// part of the page once the job has a result.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.sessionOrNew(w, r)
	snap := m.state.Snapshot()

	data := homePageData{
		Results: m.resultsPanel(sess, snap),
		// A result already present on first render scrolls as soon as the page loads.
		Scroll: sess.takeScroll(),
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error().Err(err).Msg("Failed to render home page")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) resultsPanel(sess *session, snap results.Snapshot) resultsPanel {
	panel := resultsPanel{
		View: sess.display.RenderSnapshot(snap),
	}
	if panel.View.Kind == results.KindPanels {
		panel.Chat = m.chatBox(sess)
	}
	return panel
}

func (m Main) chatBox(sess *session) chatBox {
	msgs := sess.box.Messages()
	status := sess.box.Status()

	out := make([]message, len(msgs))
	for i, msg := range msgs {
		streaming := status.State == models.StateStreaming && msg.IsBot() && i == len(msgs)-1
		out[i] = m.message(msg, streaming)
	}
	return chatBox{
		Open:     sess.isOpen(),
		Messages: out,
		Form:     chatFormFor(status),
	}
}

func (m Main) message(msg models.ChatMessage, streaming bool) message {
	var content template.HTML
	if msg.IsBot() {
		content = m.md.MustRender(msg.Content)
	} else {
		content = template.HTML(strings.ReplaceAll(template.HTMLEscapeString(msg.Content), "\n", "<br>")) //nolint:gosec
	}
	return message{
		ID:        msg.ID,
		Sender:    string(msg.Sender),
		Content:   content,
		Streaming: streaming,
	}
}

func chatFormFor(st chat.Status) chatForm {
	return chatForm{
		Busy:   !st.State.AcceptsInput(),
		Failed: st.State == models.StateFailed,
		Error:  st.Err,
		Seq:    st.Seq,
	}
}

// publishResults re-renders the result panel for every session when the job changes, and tells a
// browser to scroll when its result just appeared.
func (m Main) publishResults(snap results.Snapshot) {
	for _, sess := range m.sessions.all() {
		panel := m.resultsPanel(sess, snap)

		var sb strings.Builder
		if err := m.templates.ExecuteTemplate(&sb, "results", panel); err != nil {
			m.logger.Error().Err(err).Str("session", sess.id).Msg("Failed to render results")
			continue
		}

		msg := &sse.Message{Type: resultsSSEType}
		msg.AppendData(sb.String())
		if err := m.sse.Publish(msg, []string{sessionTopic(sess.id)}); err != nil {
			m.logger.Error().Err(err).Str("session", sess.id).Msg("Failed to publish results")
			continue
		}

		if sess.takeScroll() {
			scroll := &sse.Message{Type: scrollSSEType}
			scroll.AppendData("results")
			if err := m.sse.Publish(scroll, []string{sessionTopic(sess.id)}); err != nil {
				m.logger.Error().Err(err).Str("session", sess.id).Msg("Failed to publish scroll")
			}
		}
	}
}
