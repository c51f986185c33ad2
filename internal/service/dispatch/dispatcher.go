// Package dispatch classifies inbound lifecycle events and drives the
// resolver, fetcher and persistence gate in the right order per event
// kind. Events may arrive duplicated, out of causal order, or not at
// all; correctness comes from the gate's idempotent writes, not from
// ordering.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"recording-ingress-service/internal/models"
	"recording-ingress-service/internal/observability/metrics"
	"recording-ingress-service/internal/recall"
	"recording-ingress-service/internal/schema"
	"recording-ingress-service/internal/service/transcripts"
	"recording-ingress-service/internal/store"
)

// Resolver resolves recording ids, artifact URLs and full transcripts.
// Satisfied by *recall.Client.
type Resolver interface {
	WaitForRecordingID(ctx context.Context, botID string, maxAttempts int) (string, error)
	ResolveArtifacts(ctx context.Context, recordingID string) recall.Artifacts
	FetchTranscript(ctx context.Context, recordingID string) ([]recall.TranscriptEntry, error)
}

// Pusher pushes live fragments to the broadcast relay. Satisfied by
// *relay.Pusher.
type Pusher interface {
	Push(ctx context.Context, externalID string, msg models.RelayMessage) error
}

// Dispatcher is the webhook event state machine. Handle acknowledges
// synchronously; all resolution and persistence work runs afterwards on
// its own goroutine with an error boundary that only logs.
type Dispatcher struct {
	store    store.Store
	gate     *transcripts.Gate
	resolver Resolver
	pusher   Pusher
	schema   *schema.Validator
	metrics  *metrics.Metrics
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// New creates a dispatcher.
func New(st store.Store, gate *transcripts.Gate, resolver Resolver, pusher Pusher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    st,
		gate:     gate,
		resolver: resolver,
		pusher:   pusher,
		schema:   schema.New(),
		metrics:  metrics.DefaultMetrics,
		log:      logger.With().Str("component", "dispatch").Logger(),
	}
}

// Handle parses an inbound lifecycle event and schedules its processing.
// It returns before any downstream work happens, so the webhook can
// acknowledge immediately; a non-nil error means the body was malformed.
func (d *Dispatcher) Handle(raw []byte) error {
	var env models.WebhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.metrics.RecordWebhookInvalid()
		return fmt.Errorf("parse event: %w", err)
	}
	if err := d.schema.ValidateEnvelope(env); err != nil {
		d.metrics.RecordWebhookInvalid()
		return err
	}

	d.metrics.RecordWebhookEvent(env.Event)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.process(context.Background(), env)
	}()
	return nil
}

// Drain blocks until all in-flight event processing finishes. Used on
// shutdown and by tests.
func (d *Dispatcher) Drain() {
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, env models.WebhookEnvelope) {
	start := time.Now()
	d.metrics.RecordEventStart()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("event", env.Event).Msg("Event processing panicked")
		}
		d.metrics.RecordEventEnd(env.Event, time.Since(start).Seconds())
	}()

	d.log.Debug().Str("event", env.Event).Msg("Processing lifecycle event")

	var err error
	switch env.Event {
	case models.EventTranscriptData:
		err = d.handleTranscriptData(ctx, env.Data)
	case models.EventTranscriptPartial:
		// Partials are revisable previews of the segment that follows;
		// only final segments are persisted.
	case models.EventRecordingDone, models.EventTranscriptDone:
		err = d.handleRecordingDone(ctx, env.Event, env.Data)
	case models.EventBotStatusChange:
		err = d.handleBotStatus(ctx, env.Data)
	default:
		d.log.Debug().Str("event", env.Event).Msg("Ignoring unrecognized event kind")
	}

	if err != nil {
		d.log.Error().Err(err).Str("event", env.Event).Msg("Event processing failed")
	}
}

// handleTranscriptData persists a live transcript segment and pushes it
// to the relay. Relay failures never block or undo persistence.
func (d *Dispatcher) handleTranscriptData(ctx context.Context, data models.WebhookData) error {
	var externalID string
	if data.Bot != nil {
		externalID = data.Bot.Metadata.ExternalID
	}
	var words []models.Word
	var speaker string
	if data.Data != nil {
		words = data.Data.Words
		if data.Data.Participant != nil {
			speaker = data.Data.Participant.Name
		}
	}

	if externalID == "" || len(words) == 0 {
		d.metrics.RecordEventDropped(models.EventTranscriptData, "missing_external_id_or_words")
		d.log.Warn().Str("externalId", externalID).Int("words", len(words)).
			Msg("Live segment missing external id or words, dropping")
		return nil
	}

	text := transcripts.JoinWords(words)
	if text == "" {
		return nil
	}
	ts := transcripts.FragmentTimestamp(words)

	sess, err := d.store.SessionByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil {
		d.metrics.RecordEventDropped(models.EventTranscriptData, "unknown_session")
		d.log.Warn().Str("externalId", externalID).Msg("No session for external id, dropping live segment")
		return nil
	}

	if _, err := d.gate.RecordFragment(ctx, sess, speaker, text, ts, transcripts.SourceLive); err != nil {
		return fmt.Errorf("record fragment: %w", err)
	}

	if speaker == "" {
		speaker = models.UnknownSpeaker
	}
	if err := d.pusher.Push(ctx, externalID, models.NewTranscriptMessage(text, speaker, ts)); err != nil {
		d.log.Warn().Err(err).Str("externalId", externalID).Msg("Relay offline or unreachable")
	}
	return nil
}

// handleRecordingDone resolves artifacts and the full transcript once
// the remote service declares the recording or transcript complete.
func (d *Dispatcher) handleRecordingDone(ctx context.Context, event string, data models.WebhookData) error {
	var recordingID string
	if data.Recording != nil {
		recordingID = data.Recording.ID
	}
	if recordingID == "" {
		d.metrics.RecordEventDropped(event, "missing_recording_id")
		d.log.Warn().Str("event", event).Msg("Completion event missing recording id, dropping")
		return nil
	}

	var botID, externalID string
	if data.Bot != nil {
		botID = data.Bot.ID
		externalID = data.Bot.Metadata.ExternalID
	}
	return d.storeByRecordingID(ctx, recordingID, externalID, botID)
}

// handleBotStatus captures the recording id as soon as the status
// carries one, and runs full resolution when the bot reaches a terminal
// state. The recording id is taken from the session when already known,
// else from this event, else re-polled from the remote service by bot id.
func (d *Dispatcher) handleBotStatus(ctx context.Context, data models.WebhookData) error {
	botID := data.BotID
	if botID == "" {
		return nil
	}
	var code, statusRecordingID string
	if data.Status != nil {
		code = data.Status.Code
		statusRecordingID = data.Status.RecordingID
	}

	d.log.Info().Str("botId", botID).Str("code", code).Str("recordingId", statusRecordingID).
		Msg("Bot status change")

	sess, err := d.store.SessionByBotID(ctx, botID)
	if err != nil {
		return fmt.Errorf("lookup session by bot: %w", err)
	}
	if sess == nil {
		if code == models.BotStatusDone || code == models.BotStatusCallEnded {
			d.metrics.RecordEventDropped(models.EventBotStatusChange, "unknown_session")
			d.log.Warn().Str("botId", botID).Msg("No session for bot on terminal status")
		}
		return nil
	}

	// Capture the recording id when the status carries one (e.g. on
	// in_call_recording).
	if statusRecordingID != "" {
		applied, err := d.gate.SetRecordingIDIfAbsent(ctx, sess, statusRecordingID)
		if err != nil {
			return fmt.Errorf("set recording id: %w", err)
		}
		if applied {
			d.log.Info().Str("recordingId", statusRecordingID).Str("externalId", sess.ExternalID).
				Msg("Saved recording id from status")
		}
	}

	if code != models.BotStatusDone && code != models.BotStatusCallEnded {
		return nil
	}

	recordingID := sess.RecordingID
	if recordingID == "" {
		recordingID = statusRecordingID
	}
	if recordingID == "" {
		recordingID, err = d.resolver.WaitForRecordingID(ctx, botID, 0)
		if err != nil {
			return fmt.Errorf("wait for recording id: %w", err)
		}
		if recordingID == "" {
			d.log.Warn().Str("botId", botID).Msg("No recording id after retries")
			return nil
		}
	}
	return d.storeByRecordingID(ctx, recordingID, sess.ExternalID, botID)
}

// storeByRecordingID finds the owning session (by recording id, then by
// the external id hint, then by bot id), pins the recording id, and
// applies everything resolvable for it.
func (d *Dispatcher) storeByRecordingID(ctx context.Context, recordingID, externalID, botID string) error {
	sess, err := d.store.SessionByRecordingID(ctx, recordingID)
	if err != nil {
		return fmt.Errorf("lookup session by recording: %w", err)
	}
	if sess == nil && externalID != "" {
		if sess, err = d.store.SessionByExternalID(ctx, externalID); err != nil {
			return fmt.Errorf("lookup session by external id: %w", err)
		}
	}
	if sess == nil && botID != "" {
		if sess, err = d.store.SessionByBotID(ctx, botID); err != nil {
			return fmt.Errorf("lookup session by bot: %w", err)
		}
	}
	if sess == nil {
		d.metrics.RecordEventDropped("resolution", "unknown_session")
		d.log.Warn().Str("recordingId", recordingID).Str("externalId", externalID).Str("botId", botID).
			Msg("No session for recording, dropping resolution")
		return nil
	}

	if _, err := d.gate.SetRecordingIDIfAbsent(ctx, sess, recordingID); err != nil {
		return fmt.Errorf("set recording id: %w", err)
	}

	_, err = d.ResolveAndPersist(ctx, sess, recordingID)
	return err
}

// ResolveAndPersist resolves media artifact URLs and the full transcript
// for a known recording id and applies both through the gate. Partial
// artifact resolution and transcript fetch failures are normal outcomes;
// only store failures are returned.
func (d *Dispatcher) ResolveAndPersist(ctx context.Context, sess *models.Session, recordingID string) (recall.Artifacts, error) {
	arts := d.resolver.ResolveArtifacts(ctx, recordingID)
	if err := d.gate.UpdateMediaURLs(ctx, sess, arts.VideoURL, arts.AudioURL); err != nil {
		return arts, fmt.Errorf("update media urls: %w", err)
	}

	entries, err := d.resolver.FetchTranscript(ctx, recordingID)
	if err != nil {
		d.log.Warn().Err(err).Str("recordingId", recordingID).Msg("Full transcript unavailable")
	}
	for _, entry := range entries {
		var speaker string
		if entry.Participant != nil {
			speaker = entry.Participant.Name
		}
		text := transcripts.JoinWords(entry.Words)
		ts := transcripts.FragmentTimestamp(entry.Words)
		if _, err := d.gate.RecordFragment(ctx, sess, speaker, text, ts, transcripts.SourceBatch); err != nil {
			return arts, fmt.Errorf("record fragment: %w", err)
		}
	}

	d.log.Info().
		Str("externalId", sess.ExternalID).
		Str("recordingId", recordingID).
		Bool("hasVideo", arts.VideoURL != "").
		Bool("hasAudio", arts.AudioURL != "").
		Int("entries", len(entries)).
		Msg("Saved artifacts and transcript")
	return arts, nil
}

// Retrieve runs the full resolution synchronously for a session, polling
// for the recording id first when it is not known yet. Reports whether a
// recording id could be resolved at all.
func (d *Dispatcher) Retrieve(ctx context.Context, sess *models.Session) (recall.Artifacts, bool, error) {
	recordingID := sess.RecordingID
	if recordingID == "" {
		var err error
		recordingID, err = d.resolver.WaitForRecordingID(ctx, sess.BotID, 0)
		if err != nil {
			return recall.Artifacts{}, false, fmt.Errorf("wait for recording id: %w", err)
		}
		if recordingID == "" {
			return recall.Artifacts{}, false, nil
		}
		if _, err := d.gate.SetRecordingIDIfAbsent(ctx, sess, recordingID); err != nil {
			return recall.Artifacts{}, false, fmt.Errorf("set recording id: %w", err)
		}
	}

	arts, err := d.ResolveAndPersist(ctx, sess, recordingID)
	return arts, true, err
}
