// Package transcripts is the dedup/persistence gate for transcript
// fragments and session media metadata. Every write path into the store
// goes through here so idempotency rules live in one place.
package transcripts

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"recording-ingress-service/internal/events"
	"recording-ingress-service/internal/models"
	"recording-ingress-service/internal/observability/metrics"
	"recording-ingress-service/internal/store"
)

// Fragment sources, recorded on the outbound integration event.
const (
	SourceLive  = "live"
	SourceBatch = "batch"
)

// Gate applies idempotent writes to the store and emits integration
// events for writes that landed. Event emission is best-effort and never
// affects the write outcome.
type Gate struct {
	store     store.Store
	publisher *events.Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewGate creates a gate over the given store.
func NewGate(st store.Store, publisher *events.Publisher, logger zerolog.Logger) *Gate {
	return &Gate{
		store:     st,
		publisher: publisher,
		metrics:   metrics.DefaultMetrics,
		log:       logger.With().Str("component", "transcripts").Logger(),
	}
}

// Normalize joins words with single spaces and trims the result. Returns
// "" for all-whitespace input.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// JoinWords builds the fragment text from a timed word sequence.
func JoinWords(words []models.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		parts = append(parts, w.Text)
	}
	return Normalize(strings.Join(parts, " "))
}

// FragmentTimestamp derives the fragment instant from the first word's
// absolute start time, falling back to the wall clock. The fallback is
// best-effort ordering, not a correctness guarantee.
func FragmentTimestamp(words []models.Word) time.Time {
	if len(words) > 0 && words[0].StartTimestamp != nil && !words[0].StartTimestamp.Absolute.IsZero() {
		return words[0].StartTimestamp.Absolute
	}
	return time.Now().UTC()
}

// RecordFragment normalizes and persists a fragment unless an identical
// (session, text, timestamp) triple is already stored. Empty text is
// discarded. Reports whether a new fragment was persisted.
//
// The lookup-then-insert is not atomic across concurrent handlers racing
// on the same fragment; a rare duplicate under a true race is tolerated.
func (g *Gate) RecordFragment(ctx context.Context, sess *models.Session, speaker, text string, ts time.Time, source string) (bool, error) {
	text = Normalize(text)
	if text == "" {
		g.metrics.RecordFragmentDiscarded()
		return false, nil
	}
	if speaker == "" {
		speaker = models.UnknownSpeaker
	}

	exists, err := g.store.FragmentExists(ctx, sess.ID, text, ts)
	if err != nil {
		g.metrics.RecordStoreError("fragment_exists")
		return false, err
	}
	if exists {
		g.metrics.RecordFragmentDeduped()
		return false, nil
	}

	f := &models.Fragment{
		SessionID: sess.ID,
		Speaker:   speaker,
		Text:      text,
		Timestamp: ts,
	}
	if err := g.store.InsertFragment(ctx, f); err != nil {
		g.metrics.RecordStoreError("insert_fragment")
		return false, err
	}
	g.metrics.RecordFragmentPersisted()

	if err := g.publisher.PublishFragment(ctx, sess.ExternalID, models.FragmentPersisted{
		EventType:  "meeting.transcript.fragment",
		ExternalID: sess.ExternalID,
		Speaker:    speaker,
		Text:       text,
		Timestamp:  ts,
		Source:     source,
	}); err != nil {
		g.log.Warn().Err(err).Str("externalId", sess.ExternalID).Msg("Fragment event publish failed")
	}
	return true, nil
}

// UpdateMediaURLs persists whichever URLs resolved. A call with both URLs
// empty is a no-op.
func (g *Gate) UpdateMediaURLs(ctx context.Context, sess *models.Session, videoURL, audioURL string) error {
	if videoURL == "" && audioURL == "" {
		return nil
	}
	if err := g.store.UpdateMediaURLs(ctx, sess.ID, videoURL, audioURL); err != nil {
		g.metrics.RecordStoreError("update_media_urls")
		return err
	}

	if err := g.publisher.PublishSessionUpdate(ctx, sess.ExternalID, models.SessionUpdated{
		EventType:  "meeting.session.updated",
		ExternalID: sess.ExternalID,
		VideoURL:   videoURL,
		AudioURL:   audioURL,
		Timestamp:  time.Now().UnixMilli(),
	}); err != nil {
		g.log.Warn().Err(err).Str("externalId", sess.ExternalID).Msg("Session event publish failed")
	}
	return nil
}

// SetRecordingIDIfAbsent applies the write-once recording id. Reconfirming
// an already-set id is a no-op.
func (g *Gate) SetRecordingIDIfAbsent(ctx context.Context, sess *models.Session, recordingID string) (bool, error) {
	applied, err := g.store.SetRecordingIDIfAbsent(ctx, sess.ID, recordingID)
	if err != nil {
		g.metrics.RecordStoreError("set_recording_id")
		return false, err
	}
	if !applied {
		return false, nil
	}
	sess.RecordingID = recordingID

	if err := g.publisher.PublishSessionUpdate(ctx, sess.ExternalID, models.SessionUpdated{
		EventType:   "meeting.session.updated",
		ExternalID:  sess.ExternalID,
		RecordingID: recordingID,
		Timestamp:   time.Now().UnixMilli(),
	}); err != nil {
		g.log.Warn().Err(err).Str("externalId", sess.ExternalID).Msg("Session event publish failed")
	}
	return true, nil
}
