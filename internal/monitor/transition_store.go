package monitor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

// TransitionStore persists state transitions in alignment_transitions.
type TransitionStore struct {
	db *sql.DB
}

// NewTransitionStore wraps an open, migrated database handle.
func NewTransitionStore(db *sql.DB) *TransitionStore {
	return &TransitionStore{db: db}
}

// RecordTransition inserts s.
func (ts *TransitionStore) RecordTransition(s Sample) error {
	accJSON, err := json.Marshal(s.Accuracy)
	if err != nil {
		return fmt.Errorf("marshal accuracy: %w", err)
	}
	var poseJSON interface{}
	if s.Pose != nil {
		b, err := json.Marshal(s.Pose)
		if err != nil {
			return fmt.Errorf("marshal pose: %w", err)
		}
		poseJSON = string(b)
	}

	query := `
		INSERT INTO alignment_transitions (
			strategy_id, kind, state, accuracy_json, pose_json, recorded_at_ns
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = ts.db.Exec(query,
		s.StrategyID,
		string(s.Kind),
		string(s.State),
		string(accJSON),
		poseJSON,
		s.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// Recent returns up to limit transitions for strategyID, oldest first.
func (ts *TransitionStore) Recent(strategyID string, limit int) ([]Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT strategy_id, kind, state, accuracy_json, pose_json, recorded_at_ns
		FROM (
			SELECT transition_id, strategy_id, kind, state, accuracy_json, pose_json, recorded_at_ns
			FROM alignment_transitions
			WHERE strategy_id = ?
			ORDER BY recorded_at_ns DESC, transition_id DESC
			LIMIT ?
		)
		ORDER BY recorded_at_ns ASC, transition_id ASC
	`
	rows, err := ts.db.Query(query, strategyID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			s        Sample
			kind     string
			state    string
			accJSON  sql.NullString
			poseJSON sql.NullString
			atNs     int64
		)
		if err := rows.Scan(&s.StrategyID, &kind, &state, &accJSON, &poseJSON, &atNs); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		s.Kind = alignment.EventKind(kind)
		if s.State, err = alignment.ParseState(state); err != nil {
			return nil, err
		}
		s.Accuracy = alignment.InfiniteAccuracy()
		if accJSON.Valid {
			if err := json.Unmarshal([]byte(accJSON.String), &s.Accuracy); err != nil {
				return nil, fmt.Errorf("transition accuracy: %w", err)
			}
		}
		if poseJSON.Valid {
			var p alignment.Pose
			if err := json.Unmarshal([]byte(poseJSON.String), &p); err != nil {
				return nil, fmt.Errorf("transition pose: %w", err)
			}
			s.Pose = &p
		}
		s.At = time.Unix(0, atNs)
		out = append(out, s)
	}
	return out, rows.Err()
}
