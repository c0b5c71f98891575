package frames

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

// SQLiteStore persists frames in the spatial_frames table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore wraps an open, migrated database handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// SaveFrame inserts f or updates the existing row with the same id. An empty
// ID is filled with a new UUID and the pose is normalised as in
// JSONStore.SaveFrame.
func (s *SQLiteStore) SaveFrame(f *SpatialFrame) error {
	if f == nil {
		return fmt.Errorf("save frame: nil frame")
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if err := f.normalizePose(); err != nil {
		return fmt.Errorf("save frame: %w", err)
	}
	f.UpdatedAtNs = s.now().UnixNano()

	poseJSON, err := json.Marshal(f.Pose)
	if err != nil {
		return fmt.Errorf("marshal frame pose: %w", err)
	}
	var strategyJSON []byte
	if f.Strategy != nil {
		if strategyJSON, err = json.Marshal(f.Strategy); err != nil {
			return fmt.Errorf("marshal frame strategy: %w", err)
		}
	}

	query := `
		INSERT INTO spatial_frames (
			frame_id, name, pose_json, strategy_json, created_at_ns, updated_at_ns
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(frame_id) DO UPDATE SET
			name = excluded.name,
			pose_json = excluded.pose_json,
			strategy_json = excluded.strategy_json,
			updated_at_ns = excluded.updated_at_ns
	`
	_, err = s.db.Exec(query,
		f.ID,
		nullString(f.Name),
		string(poseJSON),
		nullBytes(strategyJSON),
		f.UpdatedAtNs,
		f.UpdatedAtNs,
	)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// Frame returns the frame with the given id.
func (s *SQLiteStore) Frame(id string) (*SpatialFrame, error) {
	query := `
		SELECT frame_id, name, pose_json, strategy_json, updated_at_ns
		FROM spatial_frames
		WHERE frame_id = ?
	`
	f, err := scanFrame(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get frame: %w", err)
	}
	return f, nil
}

// Frames returns every frame ordered by creation time.
func (s *SQLiteStore) Frames() ([]*SpatialFrame, error) {
	query := `
		SELECT frame_id, name, pose_json, strategy_json, updated_at_ns
		FROM spatial_frames
		ORDER BY created_at_ns, frame_id
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var out []*SpatialFrame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFrame removes the frame with the given id.
func (s *SQLiteStore) DeleteFrame(id string) error {
	res, err := s.db.Exec(`DELETE FROM spatial_frames WHERE frame_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete frame: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete frame: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrFrameNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFrame(row rowScanner) (*SpatialFrame, error) {
	var (
		f            SpatialFrame
		name         sql.NullString
		poseJSON     string
		strategyJSON sql.NullString
	)
	if err := row.Scan(&f.ID, &name, &poseJSON, &strategyJSON, &f.UpdatedAtNs); err != nil {
		return nil, err
	}
	if name.Valid {
		f.Name = name.String
	}
	if err := json.Unmarshal([]byte(poseJSON), &f.Pose); err != nil {
		return nil, fmt.Errorf("frame %s pose: %w", f.ID, err)
	}
	if strategyJSON.Valid && strategyJSON.String != "" {
		var cfg alignment.StrategyConfig
		if err := json.Unmarshal([]byte(strategyJSON.String), &cfg); err != nil {
			return nil, fmt.Errorf("frame %s strategy: %w", f.ID, err)
		}
		f.Strategy = &cfg
	}
	return &f, nil
}

// nullString returns nil for empty strings so they are stored as NULL.
func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
