package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/emberforge/idlecore/internal/engine"
	"github.com/emberforge/idlecore/internal/platform/logger"
)

// SnapshotMeta describes one stored snapshot without its payload.
type SnapshotMeta struct {
	ID          int64     `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	EntityCount int       `json:"entityCount"`
}

// SnapshotStore persists engine saved state as zstd-compressed JSON blobs.
type SnapshotStore struct {
	db      *sql.DB
	logger  *logger.Logger
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenSnapshotStore opens (and bootstraps) the snapshot database.
func OpenSnapshotStore(dbPath string, log *logger.Logger) (*SnapshotStore, error) {
	db, err := InitSQLite(dbPath)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &SnapshotStore{db: db, logger: log, encoder: enc, decoder: dec}, nil
}

// Close releases the database and compression resources.
func (s *SnapshotStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// Save persists one saved state and returns its snapshot id.
func (s *SnapshotStore) Save(state *engine.SavedState) (int64, error) {
	if state == nil {
		return 0, fmt.Errorf("cannot save nil state")
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	payload := s.encoder.EncodeAll(raw, nil)

	res, err := s.db.Exec(
		`INSERT INTO snapshots (created_at, entity_count, payload) VALUES (?, ?, ?)`,
		state.SavedAt.UTC(), len(state.Unlocked), payload,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read snapshot id: %w", err)
	}

	s.logger.Info("snapshot %d saved (%d entities, %d bytes compressed)", id, len(state.Unlocked), len(payload))
	return id, nil
}

// LoadLatest returns the most recent saved state, or nil when the store
// is empty.
func (s *SnapshotStore) LoadLatest() (*engine.SavedState, error) {
	row := s.db.QueryRow(`SELECT payload FROM snapshots ORDER BY id DESC LIMIT 1`)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest snapshot: %w", err)
	}

	return s.decode(payload)
}

// Load returns one saved state by snapshot id.
func (s *SnapshotStore) Load(id int64) (*engine.SavedState, error) {
	row := s.db.QueryRow(`SELECT payload FROM snapshots WHERE id = ?`, id)

	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot %d not found", id)
		}
		return nil, fmt.Errorf("failed to read snapshot %d: %w", id, err)
	}

	return s.decode(payload)
}

func (s *SnapshotStore) decode(payload []byte) (*engine.SavedState, error) {
	raw, err := s.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	var state engine.SavedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &state, nil
}

// List returns snapshot metadata, newest first.
func (s *SnapshotStore) List() ([]SnapshotMeta, error) {
	rows, err := s.db.Query(`SELECT id, created_at, entity_count FROM snapshots ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotMeta
	for rows.Next() {
		var m SnapshotMeta
		if err := rows.Scan(&m.ID, &m.CreatedAt, &m.EntityCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Prune deletes all but the newest keep snapshots.
func (s *SnapshotStore) Prune(keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.Exec(
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}
