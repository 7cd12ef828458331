package consensus

import "errors"

// Sentinel errors for the consensus task. Validation failures drop the
// offending event; none of these errors terminates the task, which stops only
// on a Shutdown event.
var (
	// ErrMissingAncestry reports that an ancestry walk ran off the saved-leaves
	// map before reaching its terminator.
	ErrMissingAncestry = errors.New("leaf ancestry missing from saved leaves")

	// ErrUnsafeProposal reports that a proposal failed both the safety and the
	// liveness check.
	ErrUnsafeProposal = errors.New("proposal failed safety and liveness checks")

	// ErrNoParentView reports that the high QC's view has no entry in the
	// validated state map.
	ErrNoParentView = errors.New("parent view not found in validated state map")
)
