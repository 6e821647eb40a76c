package authflow

import (
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
)

// Session identifies one authorization attempt.
type Session struct {
	ID        string
	CreatedAt time.Time
}

type pendingRecord struct {
	ID string `json:"id"`
	TS int64  `json:"ts"`
}

// idRecord is the common shape used to match a stored record to a session.
type idRecord struct {
	ID string `json:"id"`
}

// Markers records the in-flight authorization attempt under [PendingKey].
//
// Every method is fire-and-forget: store failures are logged and swallowed.
type Markers struct {
	store  Store
	logger *log.Logger
	now    func() time.Time
}

// NewMarkers creates [Markers] over store.
func NewMarkers(store Store, logger *log.Logger) *Markers {
	logger = orDiscard(logger)
	return &Markers{store: store, logger: logger, now: time.Now}
}

// MarkPending persists {id, ts}, overwriting any previous marker.
func (m *Markers) MarkPending(id string) {
	data, err := json.Marshal(pendingRecord{ID: id, TS: m.now().UnixMilli()})
	if err != nil {
		m.logger.Warn("Failed to encode Spotify auth state", "error", err)
		return
	}
	if err := m.store.Set(PendingKey, string(data)); err != nil {
		m.logger.Warn("Failed to save Spotify auth state", "error", err)
	}
}

// ClearPending removes the marker when id is empty or matches the stored id.
func (m *Markers) ClearPending(id string) {
	clearMatching(m.store, PendingKey, id, m.logger, "Failed to clear Spotify auth state")
}

// Pending returns the current marker, if any.
func (m *Markers) Pending() (Session, bool) {
	raw, ok, err := m.store.Get(PendingKey)
	if err != nil {
		m.logger.Warn("Failed to read Spotify auth state", "error", err)
		return Session{}, false
	}
	if !ok || raw == "" {
		return Session{}, false
	}

	var rec pendingRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		m.logger.Warn("Failed to parse Spotify auth state", "error", err)
		return Session{}, false
	}
	if rec.ID == "" {
		return Session{}, false
	}
	return Session{ID: rec.ID, CreatedAt: time.UnixMilli(rec.TS)}, true
}

// clearMatching removes key unconditionally when id is empty, otherwise only when
// the stored record is null or carries the same id. Unparseable records are kept.
func clearMatching(store Store, key, id string, logger *log.Logger, failure string) {
	if id == "" {
		if err := store.Remove(key); err != nil {
			logger.Warn(failure, "error", err)
		}
		return
	}

	raw, ok, err := store.Get(key)
	if err != nil {
		logger.Warn(failure, "error", err)
		return
	}
	if !ok || raw == "" {
		return
	}

	var rec *idRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logger.Warn(failure, "error", err)
		return
	}
	if rec != nil && rec.ID != id {
		return
	}

	if err := store.Remove(key); err != nil {
		logger.Warn(failure, "error", err)
	}
}
