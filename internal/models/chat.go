package models

import (
	"time"
)

// Result is the outcome of an analysis job produced by the external pipeline. Both fields hold
// Markdown and are rendered as-is, without validation.
type Result struct {
	Timeline string `json:"timeline"`
	Summary  string `json:"summary"`
}

// ChatMessage is a single entry of the chat transcript. User messages are immutable once appended,
// while the last bot message may be rewritten in place as its reply streams in.
type ChatMessage struct {
	ID        string
	Content   string
	Sender    Sender
	Timestamp time.Time
}

// Exchange is a settled question and answer round trip, as kept by the transcript archive.
type Exchange struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Failed    bool      `json:"failed"`
	Error     string    `json:"error,omitempty"`
	AskedAt   time.Time `json:"askedAt"`
	SettledAt time.Time `json:"settledAt"`
}

// Sender identifies who wrote a chat message.
type Sender string

// State is the lifecycle state of a chat box.
type State string

const (
	// SenderUser marks a question typed by the user.
	SenderUser Sender = "user"
	// SenderBot marks a greeting or an answer streamed from the query endpoint.
	SenderBot Sender = "bot"

	// StateIdle means no request is in flight and the input accepts a question.
	StateIdle State = "idle"
	// StateStreaming means a request is in flight and the last bot message is still growing.
	StateStreaming State = "streaming"
	// StateFailed means the last request did not complete. The input accepts a new question and the
	// failed one may be retried.
	StateFailed State = "failed"
)

// IsBot reports whether the message was written by the bot.
func (m ChatMessage) IsBot() bool {
	return m.Sender == SenderBot
}

// AcceptsInput reports whether a new question may be sent in this state.
func (s State) AcceptsInput() bool {
	return s != StateStreaming
}
