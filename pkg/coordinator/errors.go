package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/crosslock/swapcore/pkg/timelock"
)

// ErrSecretMismatch is returned when a supplied secret does not hash to the
// swap's commitment. This is the coordinator's pre-check; the ledger-level
// check inside each adapter is the real security boundary.
var ErrSecretMismatch = errors.New("secret does not match swap commitment")

// PolicyViolationError means the timelock policy denies the requested action
// right now. It names the window that must be reached and how long until it
// opens; the caller may retry later.
type PolicyViolationError struct {
	SwapID string
	Action timelock.Action
	Stage  timelock.Stage
	Wait   time.Duration
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("swap %s: %s denied by timelock policy: %s opens in %s",
		e.SwapID, e.Action, e.Stage, e.Wait)
}

// ExhaustedError means every retry of a transient boundary failure was
// spent. The swap is left Failed for an operator to inspect.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
