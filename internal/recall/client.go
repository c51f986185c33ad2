// Package recall is the client for the remote meeting-recording service.
// It resolves recording ids, media artifact URLs and spoken-word
// transcripts. Remote failures are never fatal here: network errors,
// non-2xx responses and malformed bodies are logged and treated as
// "not yet available".
package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"recording-ingress-service/internal/models"
	"recording-ingress-service/internal/observability/metrics"
)

// Config holds recall client configuration.
type Config struct {
	BaseURL           string
	APIKey            string
	WebhookURL        string
	RecordingAttempts int
	RecordingInterval time.Duration
	ArtifactRounds    int
	ArtifactInterval  time.Duration
	RequestTimeout    time.Duration
}

// Client talks to the remote recording service.
type Client struct {
	baseURL           string
	apiKey            string
	webhookURL        string
	httpc             *http.Client
	recordingAttempts int
	recordingInterval time.Duration
	artifactRounds    int
	artifactInterval  time.Duration
	metrics           *metrics.Metrics
	log               zerolog.Logger
}

// Artifacts is the subset of media download URLs that resolved. Either URL
// may be empty on exhaustion; that is a normal outcome, not an error.
type Artifacts struct {
	VideoURL string
	AudioURL string
}

// TranscriptEntry is one utterance of the full structured transcript.
type TranscriptEntry struct {
	Participant *models.Participant `json:"participant,omitempty"`
	Words       []models.Word       `json:"words"`
}

// New creates a recall client. Zero-valued retry settings fall back to the
// remote service's observed availability characteristics: recording ids
// within ~60s of capture start, artifacts within ~50s of recording end.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.RecordingAttempts <= 0 {
		cfg.RecordingAttempts = 20
	}
	if cfg.RecordingInterval <= 0 {
		cfg.RecordingInterval = 3 * time.Second
	}
	if cfg.ArtifactRounds <= 0 {
		cfg.ArtifactRounds = 10
	}
	if cfg.ArtifactInterval <= 0 {
		cfg.ArtifactInterval = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:           cfg.BaseURL,
		apiKey:            cfg.APIKey,
		webhookURL:        cfg.WebhookURL,
		httpc:             &http.Client{Timeout: cfg.RequestTimeout},
		recordingAttempts: cfg.RecordingAttempts,
		recordingInterval: cfg.RecordingInterval,
		artifactRounds:    cfg.ArtifactRounds,
		artifactInterval:  cfg.ArtifactInterval,
		metrics:           metrics.DefaultMetrics,
		log:               logger.With().Str("component", "recall").Logger(),
	}
}

type botResponse struct {
	Recordings []models.RecordingRef `json:"recordings"`
}

type recordingResponse struct {
	MediaShortcuts *mediaShortcuts `json:"media_shortcuts"`
}

type mediaShortcuts struct {
	VideoMixed *artifactRef `json:"video_mixed"`
	AudioMixed *artifactRef `json:"audio_mixed"`
}

type artifactRef struct {
	Data artifactData `json:"data"`
}

type artifactData struct {
	DownloadURL string `json:"download_url"`
}

type artifactListResponse struct {
	Results []artifactRef `json:"results"`
}

type transcriptResponse struct {
	Data []TranscriptEntry `json:"data"`
}

// WaitForRecordingID polls the bot until the remote service has an
// associated recording id, up to maxAttempts attempts a fixed interval
// apart. maxAttempts <= 0 means the configured default. Returns "" after
// exhaustion; the only error is context cancellation.
func (c *Client) WaitForRecordingID(ctx context.Context, botID string, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.recordingAttempts
	}
	start := time.Now()
	defer func() {
		c.metrics.RecordResolverDuration("recording_id", time.Since(start).Seconds())
	}()

	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			if err := sleep(ctx, c.recordingInterval); err != nil {
				return "", err
			}
		}

		c.metrics.RecordResolverAttempt("recording_id")

		var body botResponse
		if err := c.getJSON(ctx, c.baseURL+"/bot/"+botID+"/", &body); err != nil {
			c.log.Warn().Err(err).Str("botId", botID).Int("attempt", i+1).
				Msg("Recording id lookup attempt failed")
			continue
		}
		if len(body.Recordings) > 0 && body.Recordings[0].ID != "" {
			return body.Recordings[0].ID, nil
		}
	}

	c.metrics.RecordResolverExhausted("recording_id")
	c.log.Warn().Str("botId", botID).Int("attempts", maxAttempts).
		Msg("No recording id after retries")
	return "", nil
}

// ResolveArtifacts resolves the downloadable media URLs for a recording.
// It first tries the ready-made shortcuts on the recording itself, then
// falls back to polling the per-kind artifact lists until both URLs are
// known or the round budget runs out. Whatever subset resolved is
// returned; missing artifacts (audio-only or video-only sessions) leave
// the corresponding URL empty.
func (c *Client) ResolveArtifacts(ctx context.Context, recordingID string) Artifacts {
	start := time.Now()
	defer func() {
		c.metrics.RecordResolverDuration("artifact_urls", time.Since(start).Seconds())
	}()

	var arts Artifacts
	if shortcuts := c.mediaShortcuts(ctx, recordingID); shortcuts != nil {
		if shortcuts.VideoMixed != nil {
			arts.VideoURL = shortcuts.VideoMixed.Data.DownloadURL
		}
		if shortcuts.AudioMixed != nil {
			arts.AudioURL = shortcuts.AudioMixed.Data.DownloadURL
		}
	}

	for i := 0; i < c.artifactRounds && (arts.VideoURL == "" || arts.AudioURL == ""); i++ {
		if i > 0 {
			if err := sleep(ctx, c.artifactInterval); err != nil {
				return arts
			}
		}

		c.metrics.RecordResolverAttempt("artifact_urls")

		if arts.VideoURL == "" {
			arts.VideoURL = c.listArtifactURL(ctx, "video_mixed", recordingID)
		}
		if arts.AudioURL == "" {
			arts.AudioURL = c.listArtifactURL(ctx, "audio_mixed", recordingID)
		}
	}

	if arts.VideoURL == "" || arts.AudioURL == "" {
		c.metrics.RecordResolverExhausted("artifact_urls")
	}
	return arts
}

// mediaShortcuts performs the single fast-path lookup on the recording.
func (c *Client) mediaShortcuts(ctx context.Context, recordingID string) *mediaShortcuts {
	var body recordingResponse
	if err := c.getJSON(ctx, c.baseURL+"/recording/"+recordingID+"/", &body); err != nil {
		c.log.Warn().Err(err).Str("recordingId", recordingID).
			Msg("Media shortcut lookup failed")
		return nil
	}
	return body.MediaShortcuts
}

// listArtifactURL queries one per-kind artifact list endpoint and returns
// the first download URL, or "" when nothing is ready yet.
func (c *Client) listArtifactURL(ctx context.Context, kind, recordingID string) string {
	endpoint := c.baseURL + "/" + kind + "?recording_id=" + url.QueryEscape(recordingID)

	var body artifactListResponse
	if err := c.getJSON(ctx, endpoint, &body); err != nil {
		c.log.Warn().Err(err).Str("kind", kind).Str("recordingId", recordingID).
			Msg("Artifact list lookup failed")
		return ""
	}
	if len(body.Results) == 0 {
		return ""
	}
	return body.Results[0].Data.DownloadURL
}

// FetchTranscript fetches the full structured transcript for a recording
// in a single request. There is no retry; the caller decides whether to
// re-invoke.
func (c *Client) FetchTranscript(ctx context.Context, recordingID string) ([]TranscriptEntry, error) {
	var body transcriptResponse
	err := c.getJSON(ctx, c.baseURL+"/transcript?recording_id="+url.QueryEscape(recordingID), &body)
	c.metrics.RecordTranscriptFetch(err)
	if err != nil {
		c.log.Warn().Err(err).Str("recordingId", recordingID).
			Msg("Full transcript fetch failed")
		return nil, err
	}
	return body.Data, nil
}

type createBotRequest struct {
	MeetingURL      string            `json:"meeting_url"`
	ExternalID      string            `json:"external_id"`
	Metadata        map[string]string `json:"metadata"`
	WebhookURL      string            `json:"webhook_url"`
	RecordingConfig recordingConfig   `json:"recording_config"`
}

type recordingConfig struct {
	VideoMixedLayout  string             `json:"video_mixed_layout"`
	VideoMixedMP4     struct{}           `json:"video_mixed_mp4"`
	AudioMixedMP3     struct{}           `json:"audio_mixed_mp3"`
	Transcript        transcriptConfig   `json:"transcript"`
	RealtimeEndpoints []realtimeEndpoint `json:"realtime_endpoints"`
}

type transcriptConfig struct {
	Provider map[string]struct{} `json:"provider"`
}

type realtimeEndpoint struct {
	Type   string   `json:"type"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type createBotResponse struct {
	ID string `json:"id"`
}

// CreateBot creates a recording bot for the meeting and wires its
// lifecycle and realtime transcript events back to the webhook endpoint.
// Returns the bot id.
func (c *Client) CreateBot(ctx context.Context, meetingURL, externalID string) (string, error) {
	reqBody := createBotRequest{
		MeetingURL: meetingURL,
		ExternalID: externalID,
		Metadata:   map[string]string{"external_id": externalID},
		WebhookURL: c.webhookURL,
		RecordingConfig: recordingConfig{
			VideoMixedLayout: "gallery_view_v2",
			Transcript: transcriptConfig{
				Provider: map[string]struct{}{"meeting_captions": {}},
			},
			RealtimeEndpoints: []realtimeEndpoint{
				{
					Type:   "webhook",
					URL:    c.webhookURL,
					Events: []string{models.EventTranscriptData, models.EventTranscriptPartial},
				},
			},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal bot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build bot request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("create bot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("create bot: %s: %s", resp.Status, string(text))
	}

	var body createBotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode bot response: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("create bot: response missing id")
	}

	c.log.Info().Str("botId", body.ID).Str("externalId", externalID).Msg("Bot created")
	return body.ID, nil
}

// getJSON performs an authorized GET and decodes the JSON body. Non-2xx
// statuses and undecodable bodies are returned as errors for the caller
// to log and treat as "no data yet".
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, string(text))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
