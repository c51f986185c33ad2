// Package models defines the data structures shared across the service.
package models

import "time"

// Session is a single recording engagement. It is identified externally by
// the caller-assigned external id and internally by the store id.
type Session struct {
	ID          int64     `json:"id"`
	ExternalID  string    `json:"externalId"`
	UserID      string    `json:"userId"`
	MeetingURL  string    `json:"meetingUrl"`
	BotID       string    `json:"botId"`
	RecordingID string    `json:"recordingId,omitempty"`
	VideoURL    string    `json:"videoUrl,omitempty"`
	AudioURL    string    `json:"audioUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Fragment is one utterance-level unit of transcript text. Fragments are
// append-only; the (SessionID, Text, Timestamp) triple is the dedup key.
type Fragment struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"-"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UnknownSpeaker is the speaker label applied when the remote service does
// not identify the participant.
const UnknownSpeaker = "Unknown speaker"
