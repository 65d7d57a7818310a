// Package chat implements the conversational widget that asks questions about an analysed recording
// and renders the streamed answer incrementally.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/minutes-web-ui/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Asker sends a question to the query endpoint. A returned error means the endpoint did not accept
// the question. Otherwise the sequence yields the answer as text chunks in arrival order, or a
// single error if the stream breaks midway.
type Asker interface {
	Ask(ctx context.Context, question string) (iter.Seq2[string, error], error)
}

// Archive receives every settled exchange. Implementations must not block for long, because they
// are called from the streaming goroutine.
type Archive interface {
	AddExchange(ctx context.Context, ex models.Exchange) (string, error)
}

// Box holds a chat transcript and drives at most one question at a time through an Asker. All
// methods are safe for concurrent use.
type Box struct {
	asker   Asker
	archive Archive
	logger  zerolog.Logger

	mu       sync.Mutex
	messages []models.ChatMessage
	state    models.State
	lastErr  string
	seq      uint64
	lastAsk  string
	closed   bool
	cancel   context.CancelFunc
	inflight chan struct{}

	observers []func(Event)
}

// Option configures a Box.
type Option func(*Box)

// DefaultGreeting is the bot message every new Box starts with.
const DefaultGreeting = "Hi! Ask me anything about the recording 😊"

var (
	// ErrBusy is returned when a question is sent while another answer is still streaming.
	ErrBusy = errors.New("an answer is still streaming")
	// ErrClosed is returned when a question is sent to a closed Box.
	ErrClosed = errors.New("chat box is closed")
	// ErrEmptyQuestion is returned when the question has no visible characters.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrNothingToRetry is returned by Retry when the last question didn't fail.
	ErrNothingToRetry = errors.New("no failed question to retry")
)

// WithGreeting replaces DefaultGreeting.
func WithGreeting(greeting string) Option {
	return func(b *Box) {
		if greeting != "" {
			b.messages[0].Content = greeting
		}
	}
}

// WithArchive records settled exchanges into a.
func WithArchive(a Archive) Option {
	return func(b *Box) {
		b.archive = a
	}
}

// WithLogger sets the logger used for stream failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Box) {
		b.logger = logger.With().Str("module", "chat").Logger()
	}
}

// NewBox creates an idle Box whose transcript holds a single bot greeting.
func NewBox(asker Asker, opts ...Option) *Box {
	b := &Box{
		asker:  asker,
		logger: zerolog.Nop(),
		state:  models.StateIdle,
		messages: []models.ChatMessage{
			{
				ID:        uuid.New().String(),
				Content:   DefaultGreeting,
				Sender:    models.SenderBot,
				Timestamp: time.Now(),
			},
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers fn to receive every change of the Box, in the order the changes are applied.
// fn is called with the Box lock held, so it must not call back into the Box.
func (b *Box) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Messages returns a copy of the transcript.
func (b *Box) Messages() []models.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := make([]models.ChatMessage, len(b.messages))
	copy(msgs, b.messages)
	return msgs
}

// Status is the lifecycle state of a Box at one point in time. Seq grows by one on every state
// change, so two renderings of a Status can be ordered.
type Status struct {
	State models.State
	Err   string
	Seq   uint64
}

// State returns the current lifecycle state and, when it is models.StateFailed, a description of
// the failure.
func (b *Box) State() (models.State, string) {
	st := b.Status()
	return st.State, st.Err
}

// Status returns the current lifecycle state together with its sequence number.
func (b *Box) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{State: b.state, Err: b.lastErr, Seq: b.seq}
}

// Send appends question to the transcript as a user message, asks it, and blocks until the answer
// has fully streamed in, failed, or ctx is done. The user message is appended before any network
// I/O. An error from the endpoint moves the Box to models.StateFailed and is also returned.
func (b *Box) Send(ctx context.Context, question string) error {
	ctx, done, err := b.begin(ctx, question, true)
	if err != nil {
		return err
	}
	return b.run(ctx, question, done)
}

// Start is like Send, but returns as soon as the user message is appended and streams the answer
// in the background. Call Close to abort it.
func (b *Box) Start(question string) error {
	ctx, done, err := b.begin(context.Background(), question, true)
	if err != nil {
		return err
	}
	go func() {
		_ = b.run(ctx, question, done)
	}()
	return nil
}

// Retry asks the last question again after a failure. The user message is not appended twice.
func (b *Box) Retry(ctx context.Context) error {
	question, err := b.retryQuestion()
	if err != nil {
		return err
	}
	ctx, done, err := b.begin(ctx, question, false)
	if err != nil {
		return err
	}
	return b.run(ctx, question, done)
}

// StartRetry is the background variant of Retry.
func (b *Box) StartRetry() error {
	question, err := b.retryQuestion()
	if err != nil {
		return err
	}
	ctx, done, err := b.begin(context.Background(), question, false)
	if err != nil {
		return err
	}
	go func() {
		_ = b.run(ctx, question, done)
	}()
	return nil
}

// Cancel aborts the answer currently streaming, if any, and waits for the Box to become idle. Text
// received so far stays in the transcript.
func (b *Box) Cancel() {
	b.mu.Lock()
	cancel, inflight := b.cancel, b.inflight
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-inflight
}

// Close cancels the answer currently streaming and rejects every later question with ErrClosed.
func (b *Box) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.Cancel()
}

func (b *Box) retryQuestion() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != models.StateFailed || b.lastAsk == "" {
		return "", ErrNothingToRetry
	}
	return b.lastAsk, nil
}

// begin claims the single in-flight slot and, when appendUser is set, appends the user message.
func (b *Box) begin(ctx context.Context, question string, appendUser bool) (context.Context, chan struct{}, error) {
	if strings.TrimSpace(question) == "" {
		return nil, nil, ErrEmptyQuestion
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, nil, ErrClosed
	}
	if b.state == models.StateStreaming {
		return nil, nil, ErrBusy
	}

	if appendUser {
		b.appendLocked(models.ChatMessage{
			ID:        uuid.New().String(),
			Content:   question,
			Sender:    models.SenderUser,
			Timestamp: time.Now(),
		})
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.cancel = cancel
	b.inflight = done
	b.lastAsk = question
	b.setStateLocked(models.StateStreaming, "")

	return ctx, done, nil
}

// run streams the answer to question into the transcript and releases the in-flight slot.
func (b *Box) run(ctx context.Context, question string, done chan struct{}) error {
	askedAt := time.Now()
	var answer strings.Builder

	chunks, streamErr := b.asker.Ask(ctx, question)
	replied := streamErr == nil
	if replied {
		b.mu.Lock()
		botIdx := b.appendLocked(models.ChatMessage{
			ID:        uuid.New().String(),
			Sender:    models.SenderBot,
			Timestamp: time.Now(),
		})
		b.mu.Unlock()

		for chunk, err := range chunks {
			if err != nil {
				streamErr = err
				break
			}
			if chunk == "" {
				continue
			}
			answer.WriteString(chunk)

			b.mu.Lock()
			b.updateLocked(botIdx, answer.String())
			b.mu.Unlock()
		}
	}

	// Any error after our own context is done comes from Cancel or Close, not from the endpoint.
	canceled := streamErr != nil && ctx.Err() != nil
	failed := streamErr != nil && !canceled

	b.mu.Lock()
	release := b.cancel
	b.cancel = nil
	b.inflight = nil
	if failed {
		b.setStateLocked(models.StateFailed, streamErr.Error())
	} else {
		b.setStateLocked(models.StateIdle, "")
	}
	b.mu.Unlock()
	release()
	close(done)

	if failed {
		b.logger.Error().Err(streamErr).Str("question", question).Msg("Failed to stream answer")
	}

	// Nothing was said yet when a question is canceled before the endpoint answered.
	if !canceled || replied {
		b.archiveExchange(models.Exchange{
			ID:        uuid.New().String(),
			Question:  question,
			Answer:    answer.String(),
			Failed:    failed,
			Error:     errString(streamErr),
			AskedAt:   askedAt,
			SettledAt: time.Now(),
		})
	}

	if failed {
		return fmt.Errorf("failed to stream answer: %w", streamErr)
	}
	return nil
}

func (b *Box) archiveExchange(ex models.Exchange) {
	if b.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.archive.AddExchange(ctx, ex); err != nil {
		b.logger.Error().Err(err).Msg("Failed to archive exchange")
	}
}

func (b *Box) appendLocked(msg models.ChatMessage) int {
	b.messages = append(b.messages, msg)
	idx := len(b.messages) - 1
	b.notifyLocked(Event{Type: EventAppended, Index: idx, Message: msg, State: b.state})
	return idx
}

func (b *Box) updateLocked(idx int, content string) {
	b.messages[idx].Content = content
	b.notifyLocked(Event{Type: EventUpdated, Index: idx, Message: b.messages[idx], State: b.state})
}

func (b *Box) setStateLocked(state models.State, errMsg string) {
	b.state = state
	b.lastErr = errMsg
	b.seq++
	b.notifyLocked(Event{Type: EventStateChanged, Index: -1, State: state, Err: errMsg, Seq: b.seq})
}

func (b *Box) notifyLocked(e Event) {
	for _, fn := range b.observers {
		fn(e)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
