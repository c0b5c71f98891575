package alignment

import "fmt"

// State is a strategy's resolution status after its most recent recompute.
type State string

const (
	StateUnresolved State = "unresolved" // No basis for a pose (e.g. no candidate frames)
	StateTracking   State = "tracking"   // Pose is valid and current
	StateInhibited  State = "inhibited"  // Resolution failed this cycle; retry next tick
)

// ParseState converts the text form back into a State.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateUnresolved, StateTracking, StateInhibited:
		return State(s), nil
	default:
		return "", fmt.Errorf("%w: unknown alignment state %q", ErrInvalidArgument, s)
	}
}
