// Package httpapi exposes the ingestion service's HTTP surface: the
// lifecycle-event webhook and the meeting session API.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"recording-ingress-service/internal/models"
	"recording-ingress-service/internal/observability/metrics"
	"recording-ingress-service/internal/schema"
	"recording-ingress-service/internal/service/dispatch"
	"recording-ingress-service/internal/store"
)

// Webhook bodies are small JSON events; anything larger is abuse.
const maxWebhookBody = 1 << 20

// BotCreator dispatches a recorder bot into a meeting. Satisfied by
// *recall.Client.
type BotCreator interface {
	CreateBot(ctx context.Context, meetingURL, externalID string) (string, error)
}

// Handlers carries the dependencies of the HTTP surface.
type Handlers struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	bots       BotCreator
	validator  *schema.Validator
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(st store.Store, d *dispatch.Dispatcher, bots BotCreator, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:      st,
		dispatcher: d,
		bots:       bots,
		validator:  schema.New(),
		metrics:    metrics.DefaultMetrics,
		log:        logger.With().Str("component", "httpapi").Logger(),
	}
}

// handleWebhook ingests one lifecycle event. It acknowledges as soon as
// the body parses; processing happens after the response is on the wire.
func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unreadable body")
		return
	}

	h.log.Debug().Str("body", bodyPreview(body, 500)).Msg("Webhook received")

	if err := h.dispatcher.Handle(body); err != nil {
		h.log.Warn().Err(err).Msg("Rejected webhook payload")
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type startRequest struct {
	MeetingURL string `json:"meetingUrl"`
	UserID     string `json:"userId"`
}

// handleStartMeeting dispatches a recorder bot and registers the session.
func (h *Handlers) handleStartMeeting(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	if err := h.validator.ValidateStartRequest(req.MeetingURL, req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	externalID := "meeting-" + uuid.NewString()
	botID, err := h.bots.CreateBot(r.Context(), req.MeetingURL, externalID)
	if err != nil {
		h.log.Error().Err(err).Str("meetingUrl", req.MeetingURL).Msg("Bot dispatch failed")
		writeError(w, http.StatusBadGateway, "Could not dispatch recorder")
		return
	}

	sess := &models.Session{
		ExternalID: externalID,
		UserID:     req.UserID,
		MeetingURL: req.MeetingURL,
		BotID:      botID,
	}
	if err := h.store.CreateSession(r.Context(), sess); err != nil {
		h.metrics.RecordStoreError("create_session")
		h.log.Error().Err(err).Str("externalId", externalID).Msg("Session create failed")
		writeError(w, http.StatusInternalServerError, "Could not create session")
		return
	}

	h.log.Info().Str("externalId", externalID).Str("botId", botID).Msg("Session started")
	writeJSON(w, http.StatusCreated, sess)
}

type meetingResponse struct {
	*models.Session
	Fragments []models.Fragment `json:"fragments"`
}

// handleGetMeeting returns the session and its transcript so far.
func (h *Handlers) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	frags, err := h.store.FragmentsBySession(r.Context(), sess.ID)
	if err != nil {
		h.metrics.RecordStoreError("fragments_by_session")
		writeError(w, http.StatusInternalServerError, "Could not load transcript")
		return
	}
	if frags == nil {
		frags = []models.Fragment{}
	}
	writeJSON(w, http.StatusOK, meetingResponse{Session: sess, Fragments: frags})
}

type retrieveResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	RecordingID string `json:"recordingId,omitempty"`
	VideoURL    string `json:"videoUrl,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty"`
}

// handleRetrieve forces artifact and transcript resolution for a session,
// for when the completion events never arrived.
func (h *Handlers) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	arts, resolved, err := h.dispatcher.Retrieve(r.Context(), sess)
	if err != nil {
		h.log.Error().Err(err).Str("externalId", sess.ExternalID).Msg("Manual retrieval failed")
		writeError(w, http.StatusInternalServerError, "Retrieval failed")
		return
	}
	if !resolved {
		writeJSON(w, http.StatusOK, retrieveResponse{Success: false, Message: "Recording not ready yet"})
		return
	}

	writeJSON(w, http.StatusOK, retrieveResponse{
		Success:     true,
		RecordingID: sess.RecordingID,
		VideoURL:    arts.VideoURL,
		AudioURL:    arts.AudioURL,
	})
}

func (h *Handlers) lookupSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	externalID := chi.URLParam(r, "externalId")
	sess, err := h.store.SessionByExternalID(r.Context(), externalID)
	if err != nil {
		h.metrics.RecordStoreError("session_by_external_id")
		writeError(w, http.StatusInternalServerError, "Lookup failed")
		return nil, false
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, "Meeting not found")
		return nil, false
	}
	return sess, true
}

// bodyPreview collapses whitespace and truncates for debug logging.
func bodyPreview(body []byte, max int) string {
	s := strings.Join(strings.Fields(string(body)), " ")
	if len(s) > max {
		s = s[:max]
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
