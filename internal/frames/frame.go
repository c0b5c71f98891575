// Package frames persists named spatial frames and the strategy configuration
// attached to them, and applies that configuration to live strategies.
package frames

import (
	"errors"
	"fmt"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

// ErrFrameNotFound is returned when a lookup names a frame that is not stored.
var ErrFrameNotFound = errors.New("frame not found")

// SpatialFrame is a stored frame. Strategy is set when the frame is governed
// by an alignment strategy and nil for plain candidate frames.
type SpatialFrame struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name,omitempty"`
	Pose        alignment.Pose            `json:"pose"`
	Strategy    *alignment.StrategyConfig `json:"strategy,omitempty"`
	UpdatedAtNs int64                     `json:"updated_at_ns,omitempty"`
}

// FrameID implements alignment.Frame.
func (f *SpatialFrame) FrameID() string { return f.ID }

// FramePose implements alignment.Frame.
func (f *SpatialFrame) FramePose() alignment.Pose { return f.Pose }

// Store is implemented by JSONStore and SQLiteStore.
type Store interface {
	SaveFrame(f *SpatialFrame) error
	Frame(id string) (*SpatialFrame, error)
	Frames() ([]*SpatialFrame, error)
	DeleteFrame(id string) error
}

// normalizePose validates f.Pose and rescales a slightly drifted rotation in
// place. Errors name the frame and wrap alignment.ErrInvalidArgument.
func (f *SpatialFrame) normalizePose() error {
	p, err := f.Pose.Normalized()
	if err != nil {
		return fmt.Errorf("frame %s: %w", f.ID, err)
	}
	f.Pose = p
	return nil
}

// clone returns a deep copy so callers cannot mutate stored records.
func (f *SpatialFrame) clone() *SpatialFrame {
	c := *f
	if f.Strategy != nil {
		s := *f.Strategy
		if f.Strategy.ParentIDs != nil {
			s.ParentIDs = append(make([]string, 0, len(f.Strategy.ParentIDs)), f.Strategy.ParentIDs...)
		}
		c.Strategy = &s
	}
	return &c
}
