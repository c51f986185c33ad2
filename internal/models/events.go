package models

import "time"

// Lifecycle event kinds delivered by the recording service webhook.
const (
	EventTranscriptData    = "transcript.data"
	EventTranscriptPartial = "transcript.partial_data"
	EventRecordingDone     = "recording.done"
	EventTranscriptDone    = "transcript.done"
	EventBotStatusChange   = "bot.status_change"
)

// WebhookEnvelope is the top-level shape of an inbound lifecycle event.
// The data payload is loosely typed; which fields are present depends on
// the event kind, and any of them may be missing.
type WebhookEnvelope struct {
	Event string      `json:"event"`
	Data  WebhookData `json:"data"`
}

// WebhookData is the union of payload shapes across event kinds.
type WebhookData struct {
	Bot       *BotRef          `json:"bot,omitempty"`
	Recording *RecordingRef    `json:"recording,omitempty"`
	Data      *RealtimeData    `json:"data,omitempty"`
	BotID     string           `json:"bot_id,omitempty"`
	Status    *BotStatusDetail `json:"status,omitempty"`
}

// BotRef identifies the recording bot and carries the caller-assigned
// external id in its metadata.
type BotRef struct {
	ID       string      `json:"id"`
	Metadata BotMetadata `json:"metadata"`
}

type BotMetadata struct {
	ExternalID string `json:"external_id"`
}

// RecordingRef identifies a recording produced by a bot.
type RecordingRef struct {
	ID string `json:"id"`
}

// RealtimeData carries word-level transcript data for live segment events.
type RealtimeData struct {
	Words       []Word       `json:"words"`
	Participant *Participant `json:"participant,omitempty"`
}

type Participant struct {
	Name string `json:"name"`
}

// Word is a single timed word within a transcript segment or entry.
type Word struct {
	Text           string         `json:"text"`
	StartTimestamp *WordTimestamp `json:"start_timestamp,omitempty"`
}

// WordTimestamp carries the absolute instant a word started.
type WordTimestamp struct {
	Absolute time.Time `json:"absolute"`
}

// BotStatusDetail is the status payload of a bot.status_change event. The
// recording id shows up here once capture begins (e.g. in_call_recording).
type BotStatusDetail struct {
	Code        string `json:"code"`
	RecordingID string `json:"recording_id,omitempty"`
}

// Terminal bot status codes that trigger artifact and transcript resolution.
const (
	BotStatusDone      = "done"
	BotStatusCallEnded = "call_ended"
)

// RelayMessage is the wire shape pushed to real-time subscribers.
type RelayMessage struct {
	Type    string            `json:"type"`
	Payload TranscriptPayload `json:"payload"`
}

// TranscriptPayload is the transcript fragment body of a relay message.
type TranscriptPayload struct {
	Text      string    `json:"text"`
	Speaker   string    `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTranscriptMessage builds the relay message for a persisted fragment.
func NewTranscriptMessage(text, speaker string, ts time.Time) RelayMessage {
	return RelayMessage{
		Type: "transcript",
		Payload: TranscriptPayload{
			Text:      text,
			Speaker:   speaker,
			Timestamp: ts,
		},
	}
}
