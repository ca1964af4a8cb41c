// Package reconcile proves the atomicity invariant held: balances observed
// before and after a swap attempt must differ by exactly the agreed
// amounts, within a tolerance for ledger fees the coordinator does not
// model. It is a test-time oracle, not a production code path.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crosslock/swapcore/pkg/escrow"
)

// AccountRef names an account on a specific ledger.
type AccountRef struct {
	Ledger  string
	Account string
}

// Snapshot is one account's balance at a point in time.
type Snapshot struct {
	Ledger  string
	Account string
	Amount  decimal.Decimal
}

// Expectation is the delta an account should show across a swap attempt.
type Expectation struct {
	Ledger  string
	Account string
	Delta   decimal.Decimal
}

// Mismatch describes one account whose observed delta missed its
// expectation.
type Mismatch struct {
	Ledger   string
	Account  string
	Expected decimal.Decimal
	Observed decimal.Decimal
}

// FailureError reports every mismatched account at once.
type FailureError struct {
	Mismatches []Mismatch
}

func (e *FailureError) Error() string {
	var b strings.Builder
	b.WriteString("reconciliation failed:")
	for _, m := range e.Mismatches {
		fmt.Fprintf(&b, " %s/%s expected delta %s, observed %s;",
			m.Ledger, m.Account, m.Expected, m.Observed)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// Reconciler reads balances through the same adapters the coordinator uses.
type Reconciler struct {
	adapters map[string]escrow.Adapter
}

func New(adapters ...escrow.Adapter) *Reconciler {
	byLedger := make(map[string]escrow.Adapter, len(adapters))
	for _, a := range adapters {
		byLedger[a.Ledger()] = a
	}
	return &Reconciler{adapters: byLedger}
}

// Snapshot reads the current balance of every referenced account.
func (r *Reconciler) Snapshot(ctx context.Context, refs []AccountRef) ([]Snapshot, error) {
	out := make([]Snapshot, 0, len(refs))
	for _, ref := range refs {
		adapter, ok := r.adapters[ref.Ledger]
		if !ok {
			return nil, fmt.Errorf("no adapter for ledger %q", ref.Ledger)
		}
		amount, err := adapter.BalanceOf(ctx, ref.Account)
		if err != nil {
			return nil, fmt.Errorf("balance of %s/%s: %w", ref.Ledger, ref.Account, err)
		}
		out = append(out, Snapshot{Ledger: ref.Ledger, Account: ref.Account, Amount: amount})
	}
	return out, nil
}

func key(ledger, account string) string {
	return ledger + "/" + account
}

// AssertDelta compares observed deltas against expectations. Accounts in
// the snapshots with no expectation must not have moved at all. tolerance
// absorbs adapter-reported fees; it applies symmetrically.
func AssertDelta(before, after []Snapshot, expected []Expectation, tolerance decimal.Decimal) error {
	base := make(map[string]decimal.Decimal, len(before))
	for _, s := range before {
		base[key(s.Ledger, s.Account)] = s.Amount
	}

	want := make(map[string]Expectation, len(expected))
	for _, e := range expected {
		want[key(e.Ledger, e.Account)] = e
	}

	var mismatches []Mismatch
	for _, s := range after {
		k := key(s.Ledger, s.Account)
		prev, ok := base[k]
		if !ok {
			// Account only in the after set; nothing to compare against.
			continue
		}
		observed := s.Amount.Sub(prev)

		exp := decimal.Zero
		if e, ok := want[k]; ok {
			exp = e.Delta
		}
		if observed.Sub(exp).Abs().GreaterThan(tolerance) {
			mismatches = append(mismatches, Mismatch{
				Ledger:   s.Ledger,
				Account:  s.Account,
				Expected: exp,
				Observed: observed,
			})
		}
	}

	if len(mismatches) > 0 {
		return &FailureError{Mismatches: mismatches}
	}
	return nil
}
