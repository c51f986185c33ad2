// Package store provides keyed persistence for sessions and transcript
// fragments. Lookups that find nothing return (nil, nil); errors are
// reserved for real read/write failures.
package store

import (
	"context"
	"fmt"
	"time"

	"recording-ingress-service/internal/config"
	"recording-ingress-service/internal/models"
)

// Store is the keyed store shared by all in-flight event handlers. Single
// reads and writes are atomic; there are no cross-operation transactions.
type Store interface {
	// CreateSession persists a new session and fills in its store id.
	CreateSession(ctx context.Context, s *models.Session) error

	SessionByExternalID(ctx context.Context, externalID string) (*models.Session, error)
	SessionByBotID(ctx context.Context, botID string) (*models.Session, error)
	SessionByRecordingID(ctx context.Context, recordingID string) (*models.Session, error)

	// SetRecordingIDIfAbsent sets the recording id only when the session
	// does not have one yet. Reports whether the write was applied.
	SetRecordingIDIfAbsent(ctx context.Context, sessionID int64, recordingID string) (bool, error)

	// UpdateMediaURLs sets whichever URLs are non-empty; empty arguments
	// leave the stored value untouched.
	UpdateMediaURLs(ctx context.Context, sessionID int64, videoURL, audioURL string) error

	FragmentExists(ctx context.Context, sessionID int64, text string, ts time.Time) (bool, error)
	InsertFragment(ctx context.Context, f *models.Fragment) error
	FragmentsBySession(ctx context.Context, sessionID int64) ([]models.Fragment, error)

	Close() error
}

// Open constructs the store selected by configuration.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return OpenSQLite(cfg.Path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
