package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/aria/internal/authflow"
)

const defaultStoragePoll = 200 * time.Millisecond

// StorageRepository implements [authflow.Store] on SQLite.
type StorageRepository struct {
	db     *sql.DB
	poll   time.Duration
	logger *log.Logger
}

// NewStorageRepository creates a [StorageRepository]. Subscribers check the change log every poll.
func NewStorageRepository(db *sql.DB, poll time.Duration, logger *log.Logger) *StorageRepository {
	if poll <= 0 {
		poll = defaultStoragePoll
	}
	return &StorageRepository{db: db, poll: poll, logger: logger}
}

// Get returns the value stored under key.
func (r *StorageRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query key %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key and appends the change to the log.
func (r *StorageRepository) Set(key, value string) error {
	return r.write(key, &value)
}

// Remove deletes key. Removing a missing key is not logged.
func (r *StorageRepository) Remove(key string) error {
	return r.write(key, nil)
}

func (r *StorageRepository) write(key string, value *string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if value == nil {
		res, err := tx.Exec("DELETE FROM kv_store WHERE key = ?", key)
		if err != nil {
			return fmt.Errorf("failed to remove key %s: %w", key, err)
		}
		if rows, err := res.RowsAffected(); err != nil || rows == 0 {
			return tx.Commit()
		}
	}

	version, err := nextSequenceTx(tx, "storage_log")
	if err != nil {
		return fmt.Errorf("failed to generate version: %w", err)
	}

	if value != nil {
		_, err = tx.Exec(`
			INSERT INTO kv_store (key, value, version, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, version = excluded.version, updated_at = excluded.updated_at
		`, key, *value, version, now)
		if err != nil {
			return fmt.Errorf("failed to store key %s: %w", key, err)
		}
	}

	_, err = tx.Exec("INSERT INTO storage_log (version, key, value, created_at) VALUES (?, ?, ?, ?)", version, key, value, now)
	if err != nil {
		return fmt.Errorf("failed to append storage log: %w", err)
	}

	return tx.Commit()
}

// Subscribe tails the change log from its current end.
//
// Query failures are logged and retried on the next tick.
func (r *StorageRepository) Subscribe() (<-chan authflow.StorageEvent, func()) {
	events := make(chan authflow.StorageEvent, 32)
	done := make(chan struct{})

	var last int64
	if err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM storage_log").Scan(&last); err != nil {
		r.logger.Warn("Failed to read storage log head", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.poll)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			entries, err := r.changesSince(last)
			if err != nil {
				r.logger.Warn("Failed to poll storage log", "error", err)
				continue
			}
			for _, e := range entries {
				select {
				case events <- e.event:
					last = e.version
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	return events, func() {
		once.Do(func() {
			close(done)
			wg.Wait()
			close(events)
		})
	}
}

type logEntry struct {
	version int64
	event   authflow.StorageEvent
}

func (r *StorageRepository) changesSince(version int64) ([]logEntry, error) {
	rows, err := r.db.Query("SELECT version, key, value FROM storage_log WHERE version > ? ORDER BY version ASC", version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []logEntry
	for rows.Next() {
		var (
			e     logEntry
			value sql.NullString
		)
		if err := rows.Scan(&e.version, &e.event.Key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan storage log: %w", err)
		}
		e.event.NewValue = value.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune drops change log entries older than age.
func (r *StorageRepository) Prune(age time.Duration) (int64, error) {
	res, err := r.db.Exec("DELETE FROM storage_log WHERE created_at < ?", time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to prune storage log: %w", err)
	}
	return res.RowsAffected()
}
