package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/shared"
)

// SessionRepository implements [models.Repository] for [models.Session] persistence.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new [SessionRepository] with the given database connection
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, sequence, access_token, refresh_token, token_expiry, pending_prompt,
	last_result, latest_result, created_at, updated_at`

// Create inserts a new session with generated ID and sequence
func (r *SessionRepository) Create(session *models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(r.db, "sessions")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	if session.ID() == "" {
		session.SetID(shared.GenerateID())
	}
	session.SetSequence(sequence)

	last, latest, err := encodeResults(session)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID(), sequence, session.AccessToken(), session.RefreshToken(), nullTime(session.TokenExpiry()),
		session.PendingPrompt(), last, latest, session.CreatedAt(), session.UpdatedAt())
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return nil
}

// Get retrieves a session by ID
func (r *SessionRepository) Get(id string) (*models.Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// Update persists every mutable field of session
func (r *SessionRepository) Update(session *models.Session) error {
	if err := session.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	last, latest, err := encodeResults(session)
	if err != nil {
		return err
	}

	now := time.Now()
	result, err := r.db.Exec(`
		UPDATE sessions
		SET access_token = ?, refresh_token = ?, token_expiry = ?, pending_prompt = ?,
			last_result = ?, latest_result = ?, updated_at = ?
		WHERE id = ?
	`, session.AccessToken(), session.RefreshToken(), nullTime(session.TokenExpiry()), session.PendingPrompt(),
		last, latest, now, session.ID())
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSessionNotFound, session.ID())
	}

	session.SetUpdatedAt(now)
	return nil
}

// Delete removes a session by ID
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrSessionNotFound, id)
	}
	return nil
}

// List retrieves sessions ordered by sequence.
//
// Criteria: "connected" (bool) keeps sessions with or without Spotify tokens;
// "pending" (bool) keeps sessions with or without a pending prompt.
func (r *SessionRepository) List(criteria map[string]any) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1 = 1`

	if connected, ok := criteria["connected"].(bool); ok {
		if connected {
			query += " AND access_token != ''"
		} else {
			query += " AND access_token = ''"
		}
	}
	if pending, ok := criteria["pending"].(bool); ok {
		if pending {
			query += " AND pending_prompt != ''"
		} else {
			query += " AND pending_prompt = ''"
		}
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return sessions, nil
}

// GetOrCreate returns the session with id, creating a fresh one when it does not exist or id is empty.
func (r *SessionRepository) GetOrCreate(id string) (*models.Session, error) {
	if id != "" {
		session, err := r.Get(id)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, shared.ErrSessionNotFound) {
			return nil, err
		}
	}

	session := models.NewSession(0)
	if err := r.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var (
		id, access, refresh, pending, last, latest string
		sequence                                   int
		expiry                                     sql.NullTime
		createdAt, updatedAt                       time.Time
	)

	if err := row.Scan(&id, &sequence, &access, &refresh, &expiry, &pending, &last, &latest, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	lastResult, err := models.DecodeResult([]byte(last))
	if err != nil {
		return nil, err
	}
	latestResult, err := models.DecodeResult([]byte(latest))
	if err != nil {
		return nil, err
	}

	session := models.NewSession(sequence)
	session.SetID(id)
	session.SetTokens(access, refresh, expiry.Time)
	session.SetPendingPrompt(pending)
	session.SetLastResult(lastResult)
	session.SetLatestResult(latestResult)
	session.SetCreatedAt(createdAt)
	session.SetUpdatedAt(updatedAt)
	return session, nil
}

func encodeResults(session *models.Session) (last, latest string, err error) {
	if last, err = encodeResult(session.LastResult()); err != nil {
		return "", "", err
	}
	if latest, err = encodeResult(session.LatestResult()); err != nil {
		return "", "", err
	}
	return last, latest, nil
}

func encodeResult(r *models.GenerationResult) (string, error) {
	if r == nil {
		return "", nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode generation result: %w", err)
	}
	return string(data), nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
