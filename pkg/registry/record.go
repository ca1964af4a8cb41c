// Package registry is the authoritative owner of swap records.
//
// All mutations flow through a Registry implementation, which enforces the
// swap state machine and guarantees atomic read-modify-write per swap id.
// Reads on distinct ids may run concurrently with writes.
package registry

import (
	"time"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// State is the lifecycle of a swap.
type State string

const (
	StatePending        State = "PENDING"
	StateSourceEscrowed State = "SOURCE_ESCROWED"
	StateBothEscrowed   State = "BOTH_ESCROWED"
	StateSecretRevealed State = "SECRET_REVEALED"
	StateCompleted      State = "COMPLETED"
	// StatePartiallyCompleted is the terminal state for a swap whose secret
	// was revealed but whose remaining withdrawal was permanently rejected.
	// The secret may be public; recovery needs an operator.
	StatePartiallyCompleted State = "PARTIALLY_COMPLETED"
	StateCancelled          State = "CANCELLED"
	StateFailed             State = "FAILED"
)

// allowedTransitions encodes the swap state machine. Once the secret is
// revealed the swap can no longer be cancelled or failed outright; it must
// end Completed or PartiallyCompleted.
var allowedTransitions = map[State][]State{
	StatePending:        {StateSourceEscrowed, StateCancelled, StateFailed},
	StateSourceEscrowed: {StateBothEscrowed, StateCancelled, StateFailed},
	StateBothEscrowed:   {StateSecretRevealed, StateCancelled, StateFailed},
	StateSecretRevealed: {StateCompleted, StatePartiallyCompleted},
	// A failed swap may still hold live escrows; an operator-driven cancel
	// reclaims them.
	StateFailed: {StateCancelled},
}

// CanTransition reports whether the edge from -> to is permitted.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s State) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Record is the unit of coordination for one swap. Owned exclusively by the
// registry; mutated only through registry operations.
type Record struct {
	ID         string             `json:"id"`
	Commitment secrets.Commitment `json:"commitment"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Window     timelock.Window    `json:"window"`

	Source      escrow.Ref `json:"source"`
	Destination escrow.Ref `json:"destination"`

	State State `json:"state"`

	// RevealedSecret is the hex-encoded preimage, set only once the swap
	// reaches SECRET_REVEALED. Empty before reveal.
	RevealedSecret string `json:"revealed_secret,omitempty"`

	// LastError preserves the final boundary failure for swaps that end
	// Failed or PartiallyCompleted.
	LastError string `json:"last_error,omitempty"`
}

// Escrow returns the ref for the given side.
func (r *Record) Escrow(side escrow.Side) escrow.Ref {
	if side == escrow.SideSource {
		return r.Source
	}
	return r.Destination
}

// SetEscrow stores the ref on the given side.
func (r *Record) SetEscrow(side escrow.Side, ref escrow.Ref) {
	if side == escrow.SideSource {
		r.Source = ref
		return
	}
	r.Destination = ref
}

// Secret decodes the revealed preimage, if any.
func (r *Record) Secret() (secrets.Secret, bool) {
	if r.RevealedSecret == "" {
		return secrets.Secret{}, false
	}
	s, err := secrets.SecretFromHex(r.RevealedSecret)
	if err != nil {
		return secrets.Secret{}, false
	}
	return s, true
}
