// Package anchors simulates a cloud spatial-anchor service and feeds the
// anchors it locates into alignment strategies as candidate frames.
package anchors

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/spatial-alignment/internal/alignment"
)

var (
	// ErrAnchorNotFound is returned when an anchor id is unknown to the service.
	ErrAnchorNotFound = errors.New("anchor not found")

	// ErrNotReady is returned when the session has not gathered enough
	// environment data for the requested operation.
	ErrNotReady = errors.New("anchor session not ready")
)

// Anchor is a located cloud anchor. It is a candidate frame whose accuracy
// is the service's estimate for the located pose.
type Anchor struct {
	ID        string             `json:"id"`
	Pose      alignment.Pose     `json:"pose"`
	Accuracy  alignment.Accuracy `json:"accuracy"`
	CreatedAt time.Time          `json:"created_at"`
}

func (a Anchor) FrameID() string                   { return a.ID }
func (a Anchor) FramePose() alignment.Pose         { return a.Pose }
func (a Anchor) FrameAccuracy() alignment.Accuracy { return a.Accuracy }
func (a Anchor) String() string                    { return fmt.Sprintf("anchor %s at %v", a.ID, a.Pose) }

// SessionStatus reports how much of the environment the session has seen.
// Each progress value reaches 1 when the corresponding operation is ready
// or recommended; values above 1 are allowed.
type SessionStatus struct {
	ReadyForCreateProgress       float64 `json:"ready_for_create_progress"`
	RecommendedForCreateProgress float64 `json:"recommended_for_create_progress"`
	ReadyForLocateProgress       float64 `json:"ready_for_locate_progress"`
	RecommendedForLocateProgress float64 `json:"recommended_for_locate_progress"`
}

// ReadyStatus returns a status in which every operation is recommended.
func ReadyStatus() SessionStatus {
	return SessionStatus{1, 1, 1, 1}
}

func (s SessionStatus) IsReadyForCreate() bool       { return s.ReadyForCreateProgress >= 1 }
func (s SessionStatus) IsRecommendedForCreate() bool { return s.RecommendedForCreateProgress >= 1 }
func (s SessionStatus) IsReadyForLocate() bool       { return s.ReadyForLocateProgress >= 1 }
func (s SessionStatus) IsRecommendedForLocate() bool { return s.RecommendedForLocateProgress >= 1 }
