package handlers

import (
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"
)

// HandleSSE streams the caller's session updates as server-sent events until the client goes away
// or the server shuts down. Requests without a known session are rejected, since there is nothing
// to stream for them.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sess := m.session(r)
	if sess == nil {
		http.Error(w, "Unknown session", http.StatusNotFound)
		return
	}

	conn, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to upgrade to event stream")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Send the headers right away so the browser considers the stream open.
	if err := conn.Flush(); err != nil {
		m.logger.Error().Err(err).Msg("Failed to open event stream")
		return
	}

	// A session with an open stream is never dropped for being idle.
	sess.attach()
	defer func() { sess.detach(time.Now()) }()

	err = m.sse.Subscribe(r.Context(), sse.Subscription{
		Client:      conn,
		LastEventID: conn.LastEventID,
		Topics:      []string{sessionTopic(sess.id)},
	})
	if err != nil && r.Context().Err() == nil {
		m.logger.Debug().Err(err).Str("session", sess.id).Msg("Event stream ended")
	}
}
