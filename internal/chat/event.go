package chat

import "github.com/MegaGrindStone/minutes-web-ui/internal/models"

// EventType tells what changed in a Box.
type EventType string

// Event describes one change of a Box. Index and Message are set for EventAppended and
// EventUpdated. State is the state of the Box after the change, and Err holds the failure
// description when State is models.StateFailed. Seq is the Status sequence number reached by an
// EventStateChanged.
type Event struct {
	Type    EventType
	Index   int
	Message models.ChatMessage
	State   models.State
	Err     string
	Seq     uint64
}

const (
	// EventAppended is sent when a message is added to the end of the transcript.
	EventAppended EventType = "appended"
	// EventUpdated is sent each time a streamed chunk rewrites the last bot message.
	EventUpdated EventType = "updated"
	// EventStateChanged is sent when the Box moves between idle, streaming and failed.
	EventStateChanged EventType = "state_changed"
)
