package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MegaGrindStone/minutes-web-ui/internal/chat"
	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// HandleChat sends the "question" form field to the query endpoint on behalf of the caller's chat
// session. The user message and every chunk of the answer reach the browser as server-sent events,
// so the response only carries the cleared and disabled input form.
//
// It answers 400 for an empty question, 404 without a session and 409 while a previous answer is
// still streaming.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	question := r.FormValue("question")
	if strings.TrimSpace(question) == "" {
		m.logger.Error().Msg("Question is required")
		http.Error(w, "Question is required", http.StatusBadRequest)
		return
	}

	sess := m.session(r)
	if sess == nil {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	if err := sess.box.Start(question); err != nil {
		m.chatError(w, err)
		return
	}

	m.renderChatForm(w, sess)
}

// HandleRetry asks the session's last failed question again.
func (m Main) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.session(r)
	if sess == nil {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	if err := sess.box.StartRetry(); err != nil {
		m.chatError(w, err)
		return
	}

	m.renderChatForm(w, sess)
}

// HandleCancel aborts the answer the session is streaming. Text received so far is kept.
func (m Main) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.session(r)
	if sess == nil {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	sess.box.Cancel()

	m.renderChatForm(w, sess)
}

// HandleToggle collapses or expands the session's chat widget and renders it again.
func (m Main) HandleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error().Str("method", r.Method).Msg("Method not allowed")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess := m.session(r)
	if sess == nil {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}
	sess.toggle()

	if err := m.templates.ExecuteTemplate(w, "chatbox", m.chatBox(sess)); err != nil {
		m.logger.Error().Err(err).Msg("Failed to render chatbox")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrNothingToRetry):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, chat.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		m.logger.Error().Err(err).Msg("Failed to send question")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// renderChatForm renders the form for the session's current status. Its sequence number lets the
// browser drop it when a newer state already arrived over the event stream.
func (m Main) renderChatForm(w http.ResponseWriter, sess *session) {
	if err := m.templates.ExecuteTemplate(w, "chat_form", chatFormFor(sess.box.Status())); err != nil {
		m.logger.Error().Err(err).Msg("Failed to render chat form")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// publishChatEvent pushes one change of a session's chat box to its browser. It runs with the box
// locked, which keeps the events in the order the changes were applied.
func (m Main) publishChatEvent(sess *session, e chat.Event) {
	var (
		tmplName string
		data     any
		typ      sse.EventType
	)
	switch e.Type {
	case chat.EventAppended, chat.EventUpdated:
		tmplName = "chat_message"
		data = m.message(e.Message, e.Message.IsBot() && e.State == models.StateStreaming)
		typ = messageSSEType
	case chat.EventStateChanged:
		tmplName = "chat_form"
		data = chatFormFor(chat.Status{State: e.State, Err: e.Err, Seq: e.Seq})
		typ = chatStateSSEType
	default:
		return
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, tmplName, data); err != nil {
		m.logger.Error().Err(err).Str("template", tmplName).Msg("Failed to render chat event")
		return
	}

	msg := &sse.Message{Type: typ}
	msg.AppendData(sb.String())
	if err := m.sse.Publish(msg, []string{sessionTopic(sess.id)}); err != nil {
		m.logger.Error().Err(err).Str("session", sess.id).Msg("Failed to publish chat event")
	}
}
