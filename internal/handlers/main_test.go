package handlers_test

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/minutes-web-ui/internal/handlers"
	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
	"github.com/MegaGrindStone/minutes-web-ui/internal/results"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAsker struct {
	chunks []string
	err    error
	gate   chan struct{}
}

type mockArchive struct {
	mu        sync.Mutex
	exchanges []models.Exchange
	err       error
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(&mockAsker{}, results.NewState())
	require.NoError(t, err)

	require.NoError(t, main.Shutdown(context.Background()))
}

func TestHandleHome(t *testing.T) {
	tests := []struct {
		name        string
		prepare     func(*results.State)
		wantBody    []string
		notWantBody []string
	}{
		{
			name:        "No job",
			prepare:     func(*results.State) {},
			wantBody:    []string{`data-kind="none"`},
			notWantBody: []string{"Timeline", "chatbox", `class="busy"`},
		},
		{
			name:        "Job in flight",
			prepare:     func(s *results.State) { s.Begin() },
			wantBody:    []string{`data-kind="busy"`, `class="busy"`},
			notWantBody: []string{"Timeline", "chatbox"},
		},
		{
			name: "Job with result",
			prepare: func(s *results.State) {
				s.Begin()
				s.Complete(models.Result{Timeline: "**A**", Summary: "B"})
			},
			wantBody: []string{
				`data-kind="panels"`,
				"<strong>A</strong>",
				"Summary",
				"Hi! Ask me anything about the recording",
				`data-scroll="true"`,
			},
		},
		{
			name: "Result without loading flag",
			prepare: func(s *results.State) {
				s.Complete(models.Result{Timeline: "A", Summary: "B"})
				s.Reset()
			},
			wantBody:    []string{`data-kind="none"`},
			notWantBody: []string{"Timeline"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := results.NewState()
			tt.prepare(state)

			main, err := handlers.NewMain(&mockAsker{}, state)
			require.NoError(t, err)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			w := httptest.NewRecorder()
			main.HandleHome(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			body := w.Body.String()
			for _, want := range tt.wantBody {
				assert.Contains(t, body, want)
			}
			for _, notWant := range tt.notWantBody {
				assert.NotContains(t, body, notWant)
			}
			assert.NotEmpty(t, w.Result().Cookies(), "a session cookie must be set")
		})
	}
}

func TestHandleHomeMethodAndPath(t *testing.T) {
	main, err := handlers.NewMain(&mockAsker{}, results.NewState())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleChat(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	state := results.NewState()
	state.Begin()
	state.Complete(models.Result{Timeline: "A", Summary: "B"})

	main, err := handlers.NewMain(&mockAsker{chunks: []string{"Hel", "lo!"}, gate: gate}, state)
	require.NoError(t, err)
	defer main.Shutdown(context.Background()) //nolint:errcheck

	cookies := newSession(t, main)

	tests := []struct {
		name       string
		method     string
		question   string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty question",
			method:     http.MethodPost,
			question:   "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Question",
			method:     http.MethodPost,
			question:   "What time?",
			wantStatus: http.StatusOK,
			wantBody:   "disabled",
		},
		{
			name:       "Question while streaming",
			method:     http.MethodPost,
			question:   "And then?",
			wantStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"question": {tt.question}}
			req := httptest.NewRequest(tt.method, "/chat", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			for _, c := range cookies {
				req.AddCookie(c)
			}
			w := httptest.NewRecorder()

			main.HandleChat(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}

	// The page shows the question right away, before any part of the answer arrived.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	main.HandleHome(w, req)
	assert.Contains(t, w.Body.String(), "What time?")
	assert.NotContains(t, w.Body.String(), "And then?")
}

func TestHandleChatStreamsAnswer(t *testing.T) {
	state := results.NewState()
	state.Begin()
	state.Complete(models.Result{Timeline: "A", Summary: "B"})

	main, err := handlers.NewMain(&mockAsker{chunks: []string{"Hel", "lo!"}}, state)
	require.NoError(t, err)
	defer main.Shutdown(context.Background()) //nolint:errcheck

	cookies := newSession(t, main)
	body := postForm(t, main.HandleChat, "/chat", url.Values{"question": {"Greet me"}}, cookies, http.StatusOK)
	// The form in the response is at least as old as the streaming state, never newer than idle.
	assert.Regexp(t, `data-seq="[12]"`, body)

	require.Eventually(t, func() bool {
		page := home(t, main, cookies)
		return strings.Contains(page, "Hello!") && strings.Contains(page, `data-seq="2"`)
	}, time.Second, 10*time.Millisecond)
	assert.NotContains(t, home(t, main, cookies), "disabled")
}

func TestChatRoutesNeedSession(t *testing.T) {
	state := results.NewState()
	state.Begin()
	state.Complete(models.Result{Timeline: "A", Summary: "B"})

	main, err := handlers.NewMain(&mockAsker{chunks: []string{"Hi"}}, state)
	require.NoError(t, err)

	for _, tt := range []struct {
		path    string
		handler http.HandlerFunc
	}{
		{path: "/chat", handler: main.HandleChat},
		{path: "/chat/toggle", handler: main.HandleToggle},
	} {
		form := url.Values{"question": {"Hello"}}
		req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()

		tt.handler(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code, tt.path)
		assert.Empty(t, w.Result().Cookies(), "%s must not start a session", tt.path)
	}
}

func TestHandleRetry(t *testing.T) {
	state := results.NewState()
	state.Begin()
	state.Complete(models.Result{Timeline: "A", Summary: "B"})

	asker := &mockAsker{err: errUnexpected}
	main, err := handlers.NewMain(asker, state)
	require.NoError(t, err)
	defer main.Shutdown(context.Background()) //nolint:errcheck

	// Without a session there is nothing to retry.
	postForm(t, main.HandleRetry, "/chat/retry", nil, nil, http.StatusNotFound)

	cookies := newSession(t, main)
	postForm(t, main.HandleRetry, "/chat/retry", nil, cookies, http.StatusConflict)

	postForm(t, main.HandleChat, "/chat", url.Values{"question": {"What time?"}}, cookies, http.StatusOK)
	require.Eventually(t, func() bool {
		return strings.Contains(home(t, main, cookies), "Could not get an answer")
	}, time.Second, 10*time.Millisecond)

	body := home(t, main, cookies)
	assert.Equal(t, 1, strings.Count(body, `data-sender="bot"`), "a failed question must not add a bot message")

	asker.setErr(nil, []string{"Noon."})
	postForm(t, main.HandleRetry, "/chat/retry", nil, cookies, http.StatusOK)
	require.Eventually(t, func() bool {
		return strings.Contains(home(t, main, cookies), "Noon.")
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, strings.Count(home(t, main, cookies), "What time?"))
}

func TestHandleCancel(t *testing.T) {
	gate := make(chan struct{})
	state := results.NewState()
	state.Begin()
	state.Complete(models.Result{Timeline: "A", Summary: "B"})

	main, err := handlers.NewMain(&mockAsker{chunks: []string{"never"}, gate: gate}, state)
	require.NoError(t, err)
	defer main.Shutdown(context.Background()) //nolint:errcheck

	postForm(t, main.HandleCancel, "/chat/cancel", nil, nil, http.StatusNotFound)

	cookies := newSession(t, main)
	postForm(t, main.HandleChat, "/chat", url.Values{"question": {"Hello"}}, cookies, http.StatusOK)
	body := postForm(t, main.HandleCancel, "/chat/cancel", nil, cookies, http.StatusOK)
	assert.NotContains(t, body, "disabled")

	// The input accepts questions again.
	close(gate)
	postForm(t, main.HandleChat, "/chat", url.Values{"question": {"Again"}}, cookies, http.StatusOK)
}

func TestHandleToggle(t *testing.T) {
	state := results.NewState()
	main, err := handlers.NewMain(&mockAsker{}, state)
	require.NoError(t, err)

	cookies := newSession(t, main)

	body := postForm(t, main.HandleToggle, "/chat/toggle", nil, cookies, http.StatusOK)
	assert.Contains(t, body, "chatbox closed")
	assert.NotContains(t, body, "chat-messages")

	body = postForm(t, main.HandleToggle, "/chat/toggle", nil, cookies, http.StatusOK)
	assert.Contains(t, body, "chatbox open")
	assert.Contains(t, body, "Hi! Ask me anything about the recording")
}

func TestHandleJobs(t *testing.T) {
	state := results.NewState()
	main, err := handlers.NewMain(&mockAsker{}, state)
	require.NoError(t, err)

	tests := []struct {
		name        string
		method      string
		handler     http.HandlerFunc
		body        string
		wantStatus  int
		wantLoading bool
		wantResult  *models.Result
	}{
		{
			name:       "Begin",
			method:     http.MethodPost,
			handler:    main.HandleJobs,
			wantStatus: http.StatusAccepted, wantLoading: true,
		},
		{
			name:       "Invalid result",
			method:     http.MethodPut,
			handler:    main.HandleJobResult,
			body:       `{"timeline": 1}`,
			wantStatus: http.StatusBadRequest, wantLoading: true,
		},
		{
			name:       "Complete",
			method:     http.MethodPut,
			handler:    main.HandleJobResult,
			body:       `{"timeline": "A", "summary": "B"}`,
			wantStatus: http.StatusNoContent, wantLoading: true,
			wantResult: &models.Result{Timeline: "A", Summary: "B"},
		},
		{
			name:       "Result method not allowed",
			method:     http.MethodGet,
			handler:    main.HandleJobResult,
			wantStatus: http.StatusMethodNotAllowed, wantLoading: true,
			wantResult: &models.Result{Timeline: "A", Summary: "B"},
		},
		{
			name:       "Reset",
			method:     http.MethodDelete,
			handler:    main.HandleJobs,
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "Jobs method not allowed",
			method:     http.MethodPatch,
			handler:    main.HandleJobs,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			tt.handler(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)

			w = httptest.NewRecorder()
			main.HandleJobs(w, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
			require.Equal(t, http.StatusOK, w.Code)

			var snap results.Snapshot
			require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
			assert.Equal(t, tt.wantLoading, snap.Loading)
			assert.Equal(t, tt.wantResult, snap.Result)
		})
	}
}

func TestHandleTranscript(t *testing.T) {
	main, err := handlers.NewMain(&mockAsker{}, results.NewState())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	main.HandleTranscript(w, httptest.NewRequest(http.MethodGet, "/api/transcript", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	archive := &mockArchive{}
	main, err = handlers.NewMain(&mockAsker{chunks: []string{"Noon."}}, results.NewState(), handlers.WithArchive(archive))
	require.NoError(t, err)
	defer main.Shutdown(context.Background()) //nolint:errcheck

	w = httptest.NewRecorder()
	main.HandleTranscript(w, httptest.NewRequest(http.MethodGet, "/api/transcript", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	cookies := newSession(t, main)
	postForm(t, main.HandleChat, "/chat", url.Values{"question": {"What time?"}}, cookies, http.StatusOK)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		main.HandleTranscript(w, httptest.NewRequest(http.MethodGet, "/api/transcript", nil))
		var exchanges []models.Exchange
		if err := json.NewDecoder(w.Body).Decode(&exchanges); err != nil {
			return false
		}
		return len(exchanges) == 1 && exchanges[0].Answer == "Noon."
	}, time.Second, 10*time.Millisecond)
}

func TestHandleSSEUnknownSession(t *testing.T) {
	main, err := handlers.NewMain(&mockAsker{}, results.NewState())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	main.HandleSSE(w, httptest.NewRequest(http.MethodGet, "/sse", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func newSession(t *testing.T, main handlers.Main) []*http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func home(t *testing.T, main handlers.Main, cookies []*http.Cookie) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	main.HandleHome(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func postForm(
	t *testing.T,
	h http.HandlerFunc,
	target string,
	form url.Values,
	cookies []*http.Cookie,
	wantStatus int,
) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h(w, req)
	require.Equal(t, wantStatus, w.Code, w.Body.String())
	return w.Body.String()
}

type testError string

func (e testError) Error() string { return string(e) }

const errUnexpected = testError("unexpected status from query endpoint: 502 Bad Gateway")

var askerMu sync.Mutex

func (m *mockAsker) setErr(err error, chunks []string) {
	askerMu.Lock()
	defer askerMu.Unlock()
	m.err = err
	m.chunks = chunks
}

func (m *mockAsker) Ask(ctx context.Context, _ string) (iter.Seq2[string, error], error) {
	askerMu.Lock()
	err, chunks := m.err, m.chunks
	askerMu.Unlock()

	if err != nil {
		return nil, err
	}
	return func(yield func(string, error) bool) {
		for _, c := range chunks {
			if m.gate != nil {
				select {
				case <-m.gate:
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if !yield(c, nil) {
				return
			}
		}
	}, nil
}

func (m *mockArchive) AddExchange(_ context.Context, ex models.Exchange) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.exchanges = append(m.exchanges, ex)
	return ex.ID, nil
}

func (m *mockArchive) Exchanges(_ context.Context) ([]models.Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]models.Exchange(nil), m.exchanges...), nil
}
