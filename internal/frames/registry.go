package frames

import (
	"fmt"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

// Registry resolves frame ids against a Store so stored strategy
// configuration can be applied to live strategies.
type Registry struct {
	store Store
}

// NewRegistry returns a registry backed by store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Resolve returns the frames named by ids in the same order.
func (r *Registry) Resolve(ids []string) ([]alignment.Frame, error) {
	out := make([]alignment.Frame, 0, len(ids))
	for _, id := range ids {
		f, err := r.store.Frame(id)
		if err != nil {
			return nil, fmt.Errorf("resolve frame %s: %w", id, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// Apply configures mp from cfg: mode, update frequency, candidate frames and
// reference override. Every id is resolved before mp is touched, so an
// unknown id leaves mp unchanged.
func (r *Registry) Apply(mp *alignment.MultiParent, cfg alignment.StrategyConfig) error {
	if mp == nil {
		return fmt.Errorf("%w: nil strategy", alignment.ErrInvalidArgument)
	}
	if cfg.Kind != "" && cfg.Kind != alignment.MultiParentKind {
		return fmt.Errorf("%w: strategy kind %q cannot configure a multi-parent strategy",
			alignment.ErrInvalidArgument, cfg.Kind)
	}
	if cfg.Mode != "" && cfg.Mode != alignment.ModeNearestNeighbor {
		return fmt.Errorf("%w: unsupported multi-parent mode %q", alignment.ErrInvalidArgument, cfg.Mode)
	}
	if cfg.UpdateFrequencyNanos < 0 {
		return fmt.Errorf("%w: update frequency %v is negative",
			alignment.ErrInvalidArgument, time.Duration(cfg.UpdateFrequencyNanos))
	}

	parents, err := r.Resolve(cfg.ParentIDs)
	if err != nil {
		return err
	}
	var reference alignment.Frame
	if cfg.ReferenceID != "" {
		f, err := r.store.Frame(cfg.ReferenceID)
		if err != nil {
			return fmt.Errorf("resolve reference frame %s: %w", cfg.ReferenceID, err)
		}
		reference = f
	}

	if err := mp.SetUpdateFrequency(cfg.UpdateFrequency()); err != nil {
		return err
	}
	if cfg.Mode != "" {
		mp.SetMode(cfg.Mode)
	}
	mp.SetReferenceFrame(reference)
	return mp.SetReferenceFrames(parents)
}

// ApplyStored applies the strategy configuration stored on the frame with
// the given id.
func (r *Registry) ApplyStored(mp *alignment.MultiParent, frameID string) error {
	f, err := r.store.Frame(frameID)
	if err != nil {
		return err
	}
	if f.Strategy == nil {
		return fmt.Errorf("%w: frame %s has no strategy configuration", alignment.ErrInvalidArgument, frameID)
	}
	return r.Apply(mp, *f.Strategy)
}

// Snapshot stores mp's current configuration and pose on the frame with the
// given id, creating it if needed.
func (r *Registry) Snapshot(mp *alignment.MultiParent, frameID, name string) (*SpatialFrame, error) {
	cfg := mp.Config()
	f := &SpatialFrame{ID: frameID, Name: name, Pose: alignment.IdentityPose(), Strategy: &cfg}
	if p, ok := mp.Pose(); ok {
		f.Pose = p
	}
	if err := r.store.SaveFrame(f); err != nil {
		return nil, err
	}
	return f, nil
}
