package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"recording-ingress-service/internal/models"
)

// SQLiteStore persists sessions and fragments in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite initializes or connects to the database and applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) applyMigrations(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            external_id TEXT NOT NULL UNIQUE,
            user_id TEXT,
            meeting_url TEXT,
            bot_id TEXT NOT NULL,
            recording_id TEXT,
            video_url TEXT,
            audio_url TEXT,
            created_at TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_bot_id ON sessions(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_recording_id ON sessions(recording_id)`,
		`CREATE TABLE IF NOT EXISTS fragments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id INTEGER NOT NULL REFERENCES sessions(id),
            speaker TEXT NOT NULL,
            text TEXT NOT NULL,
            timestamp TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_fragments_dedup ON fragments(session_id, text, timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateSession inserts a new session and fills in its store id.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
            external_id, user_id, meeting_url, bot_id, recording_id,
            video_url, audio_url, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ExternalID,
		nullableString(sess.UserID),
		nullableString(sess.MeetingURL),
		sess.BotID,
		nullableString(sess.RecordingID),
		nullableString(sess.VideoURL),
		nullableString(sess.AudioURL),
		sess.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sess.ID = id
	return nil
}

const sessionColumns = `id, external_id, user_id, meeting_url, bot_id, recording_id, video_url, audio_url, created_at`

func (s *SQLiteStore) sessionBy(ctx context.Context, where string, arg any) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE `+where+` LIMIT 1`, arg)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return sess, nil
}

// SessionByExternalID fetches a session by its caller-assigned external id.
func (s *SQLiteStore) SessionByExternalID(ctx context.Context, externalID string) (*models.Session, error) {
	return s.sessionBy(ctx, `external_id = ?`, externalID)
}

// SessionByBotID fetches a session by its recording-bot id.
func (s *SQLiteStore) SessionByBotID(ctx context.Context, botID string) (*models.Session, error) {
	return s.sessionBy(ctx, `bot_id = ?`, botID)
}

// SessionByRecordingID fetches a session by its resolved recording id.
func (s *SQLiteStore) SessionByRecordingID(ctx context.Context, recordingID string) (*models.Session, error) {
	return s.sessionBy(ctx, `recording_id = ?`, recordingID)
}

// SetRecordingIDIfAbsent writes the recording id only when empty. The
// condition lives in the UPDATE itself so the write-once rule holds under
// concurrent event handlers.
func (s *SQLiteStore) SetRecordingIDIfAbsent(ctx context.Context, sessionID int64, recordingID string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET recording_id = ?
         WHERE id = ? AND (recording_id IS NULL OR recording_id = '')`,
		recordingID,
		sessionID,
	)
	if err != nil {
		return false, fmt.Errorf("set recording id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateMediaURLs sets whichever URLs are non-empty, never clearing a
// previously stored value.
func (s *SQLiteStore) UpdateMediaURLs(ctx context.Context, sessionID int64, videoURL, audioURL string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET
            video_url = COALESCE(NULLIF(?, ''), video_url),
            audio_url = COALESCE(NULLIF(?, ''), audio_url)
         WHERE id = ?`,
		videoURL,
		audioURL,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("update media urls: %w", err)
	}
	return nil
}

// FragmentExists reports whether a fragment with the same dedup triple is
// already stored.
func (s *SQLiteStore) FragmentExists(ctx context.Context, sessionID int64, text string, ts time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM fragments WHERE session_id = ? AND text = ? AND timestamp = ? LIMIT 1`,
		sessionID,
		text,
		ts.UTC().Format(time.RFC3339Nano),
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query fragment: %w", err)
	}
	return true, nil
}

// InsertFragment appends a fragment and fills in its store id.
func (s *SQLiteStore) InsertFragment(ctx context.Context, f *models.Fragment) error {
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO fragments (session_id, speaker, text, timestamp) VALUES (?, ?, ?, ?)`,
		f.SessionID,
		f.Speaker,
		f.Text,
		f.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert fragment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	return nil
}

// FragmentsBySession returns a session's fragments in insertion order.
func (s *SQLiteStore) FragmentsBySession(ctx context.Context, sessionID int64) ([]models.Fragment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, speaker, text, timestamp FROM fragments WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	defer rows.Close()

	var out []models.Fragment
	for rows.Next() {
		var f models.Fragment
		var ts string
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Speaker, &f.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse fragment timestamp: %w", err)
		}
		f.Timestamp = parsed
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var userID, meetingURL, recordingID, videoURL, audioURL sql.NullString
	var createdAt string

	if err := row.Scan(
		&sess.ID,
		&sess.ExternalID,
		&userID,
		&meetingURL,
		&sess.BotID,
		&recordingID,
		&videoURL,
		&audioURL,
		&createdAt,
	); err != nil {
		return nil, err
	}

	sess.UserID = userID.String
	sess.MeetingURL = meetingURL.String
	sess.RecordingID = recordingID.String
	sess.VideoURL = videoURL.String
	sess.AudioURL = audioURL.String

	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	sess.CreatedAt = parsed
	return &sess, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
