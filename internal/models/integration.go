package models

import "time"

// FragmentPersisted is the integration event emitted after a transcript
// fragment is durably stored.
type FragmentPersisted struct {
	EventType  string    `json:"eventType"`
	ExternalID string    `json:"externalId"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"` // "live" or "batch"
}

// SessionUpdated is the integration event emitted when a session's
// recording id or media URLs resolve.
type SessionUpdated struct {
	EventType   string `json:"eventType"`
	ExternalID  string `json:"externalId"`
	RecordingID string `json:"recordingId,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}
