package registry

import (
	"context"
	"errors"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("swap not found")

// ErrDuplicateID is returned by Begin when the id is already registered.
var ErrDuplicateID = errors.New("swap id already registered")

// ErrInvalidTransition is returned for any disallowed state-machine edge,
// including re-attaching an already attached escrow side.
var ErrInvalidTransition = errors.New("invalid swap transition")

// Registry is the durable interface for swap record management.
//
// Concurrency contract: mutating operations on a given id are mutually
// exclusive; Transition and AttachEscrow are atomic read-modify-write.
type Registry interface {
	// Begin creates a record in StatePending. The window must already be
	// validated by the caller; Begin validates it again as a backstop.
	Begin(ctx context.Context, id string, commitment secrets.Commitment, window timelock.Window) (Record, error)

	// AttachEscrow stores the ref for a side exactly once.
	AttachEscrow(ctx context.Context, id string, side escrow.Side, ref escrow.Ref) error

	// Transition moves the swap to next if the state machine permits it.
	// mutate, when non-nil, is applied to the record inside the same
	// atomic step (used to record the revealed secret, escrow statuses,
	// or the final error). Returns the updated record.
	Transition(ctx context.Context, id string, next State, mutate func(*Record)) (Record, error)

	// SetEscrowStatus updates one side's status without a state change
	// (e.g. destination marked withdrawn while the swap stays
	// SECRET_REVEALED).
	SetEscrowStatus(ctx context.Context, id string, side escrow.Side, status escrow.Status) error

	// Get retrieves a record by id.
	Get(ctx context.Context, id string) (Record, error)

	// List retrieves all records, for observability.
	List(ctx context.Context) ([]Record, error)
}
