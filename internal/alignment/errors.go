package alignment

import "errors"

var (
	// ErrInvalidArgument is returned when a mutator receives a value outside
	// its contract, such as a nil candidate list or a negative frequency.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMissingCollaborator is returned when a strategy is built or attached
	// without a collaborator it needs to operate.
	ErrMissingCollaborator = errors.New("missing collaborator")

	// ErrUnreachable wraps the panic value raised when a dispatch reaches a
	// branch with no handling case.
	ErrUnreachable = errors.New("unreachable branch")

	// ErrStrategyNotFound is returned by Driver lookups for unknown ids.
	ErrStrategyNotFound = errors.New("strategy not found")
)
