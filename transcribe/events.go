package transcribe

import (
	"encoding/json"
	"fmt"
)

// EventType classifies an inbound message from the transcription service.
type EventType string

const (
	EventPartialTranscript EventType = "partial_transcript"
	EventFinalTranscript   EventType = "final_transcript"
	EventError             EventType = "error"
	EventInfo              EventType = "info"
)

// Event is one inbound message from the transcription service.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text"`
	IsFinal bool      `json:"is_final,omitempty"`
}

// Final reports whether the event carries a final transcript.
func (e Event) Final() bool {
	return e.Type == EventFinalTranscript || e.IsFinal
}

// parseEvent deserializes an inbound message. Unknown types and invalid
// JSON are both parse failures; the caller logs and discards them.
func parseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("parse event: %w", err)
	}
	switch ev.Type {
	case EventPartialTranscript, EventFinalTranscript, EventError, EventInfo:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", ev.Type)
	}
	return ev, nil
}

// audioChunk is the outbound frame message.
type audioChunk struct {
	AudioChunk string `json:"audio_chunk"`
}

// ServerError is an error event reported by the transcription backend.
// It does not close the connection.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "transcribe: service error: " + e.Message
}
