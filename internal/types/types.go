// Package types provides shared type definitions for the application.
package types

// CallStatus is a snapshot of the current session, shaped for status
// output.
type CallStatus struct {
	State           string   `json:"state"` // "idle", "ringing", "recording"
	CallID          string   `json:"callId,omitempty"`
	StartedAt       int64    `json:"startedAt,omitempty"` // Unix timestamp in milliseconds
	ChannelState    string   `json:"channelState"`
	TranscriptCount int      `json:"transcriptCount"`
	Transcript      []string `json:"transcript,omitempty"`
}