package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventType classifies a server event the session core cares about.
type EventType string

const (
	// EventAudioDelta carries a chunk of synthesized response audio.
	EventAudioDelta EventType = "audio_delta"
	// EventSpeechStarted signals the user started speaking; playback of
	// any in-flight response should be flushed.
	EventSpeechStarted EventType = "speech_started"
	// EventError carries an API-reported error.
	EventError EventType = "error"
)

// Event is a classified server event.
type Event struct {
	Type  EventType
	Audio []byte // decoded PCM, set for EventAudioDelta
	Err   *APIError
}

// APIError is an error reported by the realtime API.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("realtime api error [%s]: %s", e.Code, e.Message)
}

// serverEvent is the wire shape of inbound messages.
type serverEvent struct {
	Type  string    `json:"type"`
	Delta string    `json:"delta,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// parseServerEvent classifies an inbound message. Events the core does
// not consume (text deltas, session acks) return (nil, nil) and are
// skipped silently.
func parseServerEvent(data []byte) (*Event, error) {
	var raw serverEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}

	switch raw.Type {
	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(raw.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode audio delta: %w", err)
		}
		return &Event{Type: EventAudioDelta, Audio: audio}, nil
	case "input_audio_buffer.speech_started":
		return &Event{Type: EventSpeechStarted}, nil
	case "error":
		if raw.Error == nil {
			return nil, fmt.Errorf("error event with no details")
		}
		return &Event{Type: EventError, Err: raw.Error}, nil
	default:
		return nil, nil
	}
}

// Outbound event builders.

func eventSessionUpdate(model, voice string) map[string]any {
	session := map[string]any{
		"modalities":          []string{"audio", "text"},
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"turn_detection": map[string]any{
			"type": "server_vad",
		},
	}
	if model != "" {
		session["model"] = model
	}
	if voice != "" {
		session["voice"] = voice
	}
	return map[string]any{
		"type":    "session.update",
		"session": session,
	}
}

func eventInputAudioBufferAppend(audioBase64 string) map[string]any {
	return map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": audioBase64,
	}
}

func eventInputAudioBufferClear() map[string]any {
	return map[string]any{
		"type": "input_audio_buffer.clear",
	}
}
