package store

import (
	"context"
	"sync"
	"time"

	"recording-ingress-service/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	sessions  map[int64]*models.Session
	fragments map[int64][]models.Fragment
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[int64]*models.Session),
		fragments: make(map[int64][]models.Fragment),
	}
}

// CreateSession persists a new session and fills in its store id.
func (m *MemoryStore) CreateSession(_ context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	sess.ID = m.nextID
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	cp := *sess
	m.sessions[sess.ID] = &cp
	return nil
}

func (m *MemoryStore) findSession(match func(*models.Session) bool) *models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sess := range m.sessions {
		if match(sess) {
			cp := *sess
			return &cp
		}
	}
	return nil
}

func (m *MemoryStore) SessionByExternalID(_ context.Context, externalID string) (*models.Session, error) {
	return m.findSession(func(s *models.Session) bool { return s.ExternalID == externalID }), nil
}

func (m *MemoryStore) SessionByBotID(_ context.Context, botID string) (*models.Session, error) {
	return m.findSession(func(s *models.Session) bool { return s.BotID == botID }), nil
}

func (m *MemoryStore) SessionByRecordingID(_ context.Context, recordingID string) (*models.Session, error) {
	return m.findSession(func(s *models.Session) bool { return recordingID != "" && s.RecordingID == recordingID }), nil
}

// SetRecordingIDIfAbsent sets the recording id only when empty.
func (m *MemoryStore) SetRecordingIDIfAbsent(_ context.Context, sessionID int64, recordingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok || sess.RecordingID != "" {
		return false, nil
	}
	sess.RecordingID = recordingID
	return true, nil
}

// UpdateMediaURLs sets whichever URLs are non-empty.
func (m *MemoryStore) UpdateMediaURLs(_ context.Context, sessionID int64, videoURL, audioURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if videoURL != "" {
		sess.VideoURL = videoURL
	}
	if audioURL != "" {
		sess.AudioURL = audioURL
	}
	return nil
}

func (m *MemoryStore) FragmentExists(_ context.Context, sessionID int64, text string, ts time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, f := range m.fragments[sessionID] {
		if f.Text == text && f.Timestamp.Equal(ts) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) InsertFragment(_ context.Context, f *models.Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	f.ID = m.nextID
	m.fragments[f.SessionID] = append(m.fragments[f.SessionID], *f)
	return nil
}

func (m *MemoryStore) FragmentsBySession(_ context.Context, sessionID int64) ([]models.Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Fragment, len(m.fragments[sessionID]))
	copy(out, m.fragments[sessionID])
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
