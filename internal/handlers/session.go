package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/MegaGrindStone/minutes-web-ui/internal/chat"
	"github.com/MegaGrindStone/minutes-web-ui/internal/results"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// session is everything one browser sees: its own chat transcript, its own result display and
// whether the chat widget is expanded.
type session struct {
	id      string
	box     *chat.Box
	display *results.Display

	mu            sync.Mutex
	open          bool
	scrollPending bool
	lastSeen      time.Time
	streams       int
}

// sessionStore holds at most max sessions. A session without an open event stream that was not
// seen for idle is dropped the next time a session is added.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	max      int
	idle     time.Duration
	now      func() time.Time
}

const (
	sessionCookieName = "minutes_session"

	defaultMaxSessions = 1000
	defaultSessionIdle = 30 * time.Minute
)

func newSessionStore(maxSessions int, idle time.Duration) *sessionStore {
	return &sessionStore{
		sessions: make(map[string]*session),
		max:      maxSessions,
		idle:     idle,
		now:      time.Now,
	}
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if ok {
		sess.touch(s.now())
	}
	return sess, ok
}

// add stores sess and returns the sessions it pushed out, which the caller must close.
func (s *sessionStore) add(sess *session) []*session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess.touch(now)

	var evicted []*session
	if s.idle > 0 {
		for id, old := range s.sessions {
			if old.idleFor(now) > s.idle {
				delete(s.sessions, id)
				evicted = append(evicted, old)
			}
		}
	}
	for s.max > 0 && len(s.sessions) >= s.max {
		old := s.leastRecentLocked()
		delete(s.sessions, old.id)
		evicted = append(evicted, old)
	}

	s.sessions[sess.id] = sess
	return evicted
}

// leastRecentLocked picks the session seen longest ago, preferring ones without an open stream.
func (s *sessionStore) leastRecentLocked() *session {
	var (
		pick          *session
		pickStreaming bool
		pickSeen      time.Time
	)
	for _, sess := range s.sessions {
		streaming, seen := sess.activity()
		switch {
		case pick == nil,
			pickStreaming && !streaming,
			pickStreaming == streaming && seen.Before(pickSeen):
			pick, pickStreaming, pickSeen = sess, streaming, seen
		}
	}
	return pick
}

func (s *sessionStore) all() []*session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
}

func (s *session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams > 0 {
		return 0
	}
	return now.Sub(s.lastSeen)
}

func (s *session) activity() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams > 0, s.lastSeen
}

// attach and detach count the event streams open for the session.
func (s *session) attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams++
}

func (s *session) detach(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams--
	s.lastSeen = now
}

// requestScroll is the session's results.Scroller. The scroll is delivered by whoever rendered the
// view, either inline in the page or as a server-sent event.
func (s *session) requestScroll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrollPending = true
}

func (s *session) takeScroll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.scrollPending
	s.scrollPending = false
	return pending
}

func (s *session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *session) toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = !s.open
	return s.open
}

// session returns the session named by the request's cookie, or nil if there is none.
func (m Main) session(r *http.Request) *session {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}
	sess, ok := m.sessions.get(c.Value)
	if !ok {
		return nil
	}
	return sess
}

// sessionOrNew returns the request's session, creating one and setting its cookie if needed. Only
// the page handler creates sessions; every other route needs the cookie it sets.
func (m Main) sessionOrNew(w http.ResponseWriter, r *http.Request) *session {
	if sess := m.session(r); sess != nil {
		return sess
	}

	sess := &session{
		id:   uuid.New().String(),
		open: true,
	}
	opts := []chat.Option{
		chat.WithGreeting(m.greeting),
		chat.WithLogger(m.logger),
	}
	if m.archive != nil {
		opts = append(opts, chat.WithArchive(m.archive))
	}
	sess.box = chat.NewBox(m.asker, opts...)
	sess.display = results.NewDisplay(m.md, results.ScrollerFunc(sess.requestScroll))
	sess.box.Subscribe(func(e chat.Event) {
		m.publishChatEvent(sess, e)
	})
	m.closeSessions(m.sessions.add(sess))

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

// closeSessions aborts the sessions' streaming answers and tells their browsers to stop listening.
func (m Main) closeSessions(sessions []*session) {
	for _, s := range sessions {
		s.box.Close()

		e := &sse.Message{Type: closeSSEType}
		// Events without data are dropped by browsers.
		e.AppendData("bye")
		// The browser may already be gone.
		_ = m.sse.Publish(e, []string{sessionTopic(s.id)})

		m.logger.Debug().Str("session", s.id).Msg("Session closed")
	}
}
