// Package timelock defines the time-window policy governing swap actions.
//
// A Window is a validated set of monotonic offsets from a swap's creation
// time. The current stage is derived purely from elapsed time; there is no
// stored state and no transition back to an earlier window. Both sides of a
// swap can evaluate the policy independently and reach the same answer.
package timelock

import (
	"fmt"
	"time"
)

// Stage is the policy state derived from elapsed time.
type Stage string

const (
	// StageLocked permits no withdrawal and no cancellation on either side.
	StageLocked Stage = "LOCKED"
	// StageExclusiveWithdrawal permits only the designated counterparty to
	// withdraw using the secret.
	StageExclusiveWithdrawal Stage = "EXCLUSIVE_WITHDRAWAL"
	// StagePublicWithdrawal permits any holder of the secret to withdraw,
	// used to recover abandoned swaps.
	StagePublicWithdrawal Stage = "PUBLIC_WITHDRAWAL"
	// StageCancellable permits the original depositor to reclaim funds.
	StageCancellable Stage = "CANCELLABLE"
	// StagePublicCancellable permits any party to trigger a refund on the
	// depositor's behalf.
	StagePublicCancellable Stage = "PUBLIC_CANCELLABLE"
)

// Action is a policy-governed operation.
type Action string

const (
	ActionWithdraw Action = "WITHDRAW"
	ActionCancel   Action = "CANCEL"
)

// Role identifies who is requesting an action relative to the escrow.
type Role string

const (
	// RoleCounterparty is the party designated to receive the escrowed funds.
	RoleCounterparty Role = "COUNTERPARTY"
	// RoleDepositor is the party that funded the escrow.
	RoleDepositor Role = "DEPOSITOR"
	// RolePublic is any third party acting on behalf of the swap.
	RolePublic Role = "PUBLIC"
)

// Window holds the named offsets, each measured from the swap's creation
// time and marking where the named period begins (FinalityLock marks where
// the locked period ends). Offsets must be monotonically non-decreasing in
// field order.
type Window struct {
	FinalityLock        time.Duration `json:"finality_lock"`
	ExclusiveWithdrawal time.Duration `json:"exclusive_withdrawal"`
	PublicWithdrawal    time.Duration `json:"public_withdrawal"`
	Cancellation        time.Duration `json:"cancellation"`
	PublicCancellation  time.Duration `json:"public_cancellation"`
}

// NewWindow builds a validated Window.
func NewWindow(finality, exclusive, public, cancel, publicCancel time.Duration) (Window, error) {
	w := Window{
		FinalityLock:        finality,
		ExclusiveWithdrawal: exclusive,
		PublicWithdrawal:    public,
		Cancellation:        cancel,
		PublicCancellation:  publicCancel,
	}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate rejects any non-monotonic or negative configuration. Offsets are
// never silently reordered.
func (w Window) Validate() error {
	if w.FinalityLock < 0 {
		return fmt.Errorf("finality_lock must not be negative, got %s", w.FinalityLock)
	}
	ordered := []struct {
		name string
		off  time.Duration
	}{
		{"finality_lock", w.FinalityLock},
		{"exclusive_withdrawal", w.ExclusiveWithdrawal},
		{"public_withdrawal", w.PublicWithdrawal},
		{"cancellation", w.Cancellation},
		{"public_cancellation", w.PublicCancellation},
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].off < ordered[i-1].off {
			return fmt.Errorf("timelock offsets out of order: %s (%s) precedes %s (%s)",
				ordered[i].name, ordered[i].off, ordered[i-1].name, ordered[i-1].off)
		}
	}
	return nil
}

// Stage derives the current policy stage from elapsed time. Monotonic and
// irreversible with respect to elapsed.
func (w Window) Stage(elapsed time.Duration) Stage {
	switch {
	case elapsed >= w.PublicCancellation:
		return StagePublicCancellable
	case elapsed >= w.Cancellation:
		return StageCancellable
	case elapsed >= w.PublicWithdrawal:
		return StagePublicWithdrawal
	case elapsed >= w.ExclusiveWithdrawal:
		return StageExclusiveWithdrawal
	default:
		return StageLocked
	}
}

// FinalityElapsed reports whether the finality lock has passed. No
// withdrawal is permitted before it has.
func (w Window) FinalityElapsed(elapsed time.Duration) bool {
	return elapsed >= w.FinalityLock
}

// IsPermitted is the single policy query surface: may role perform action at
// the given elapsed time. Pure and side-effect-free.
func (w Window) IsPermitted(action Action, role Role, elapsed time.Duration) bool {
	if !w.FinalityElapsed(elapsed) {
		return false
	}
	stage := w.Stage(elapsed)
	switch action {
	case ActionWithdraw:
		switch stage {
		case StageExclusiveWithdrawal:
			return role == RoleCounterparty
		case StagePublicWithdrawal:
			return true
		default:
			return false
		}
	case ActionCancel:
		switch stage {
		case StageCancellable:
			return role == RoleDepositor
		case StagePublicCancellable:
			return true
		default:
			return false
		}
	default:
		return false
	}
}

// Deny explains why an action is not permitted right now: the stage that
// must be reached and how long until it begins. Used to surface policy
// violations with the window that must elapse.
func (w Window) Deny(action Action, elapsed time.Duration) (Stage, time.Duration) {
	var start time.Duration
	var stage Stage
	switch action {
	case ActionWithdraw:
		stage, start = StageExclusiveWithdrawal, w.ExclusiveWithdrawal
		if w.FinalityLock > start {
			start = w.FinalityLock
		}
	case ActionCancel:
		stage, start = StageCancellable, w.Cancellation
	}
	remaining := start - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return stage, remaining
}
