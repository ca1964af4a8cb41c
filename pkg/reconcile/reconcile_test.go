package reconcile

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslock/swapcore/pkg/adapters/mock"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestSnapshotReadsThroughAdapters(t *testing.T) {
	alpha := mock.NewAdapter("alpha")
	beta := mock.NewAdapter("beta")
	alpha.Fund("alice", d("100"))
	beta.Fund("bob", d("250"))

	r := New(alpha, beta)
	snaps, err := r.Snapshot(context.Background(), []AccountRef{
		{Ledger: "alpha", Account: "alice"},
		{Ledger: "beta", Account: "bob"},
		{Ledger: "beta", Account: "carol"},
	})
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	assert.True(t, snaps[0].Amount.Equal(d("100")))
	assert.True(t, snaps[1].Amount.Equal(d("250")))
	assert.True(t, snaps[2].Amount.IsZero())
}

func TestSnapshotUnknownLedger(t *testing.T) {
	r := New(mock.NewAdapter("alpha"))
	_, err := r.Snapshot(context.Background(), []AccountRef{{Ledger: "gamma", Account: "x"}})
	assert.Error(t, err)
}

func TestAssertDeltaPasses(t *testing.T) {
	before := []Snapshot{
		{Ledger: "alpha", Account: "alice", Amount: d("100")},
		{Ledger: "beta", Account: "bob", Amount: d("50")},
	}
	after := []Snapshot{
		{Ledger: "alpha", Account: "alice", Amount: d("0")},
		{Ledger: "beta", Account: "bob", Amount: d("149")},
	}
	expected := []Expectation{
		{Ledger: "alpha", Account: "alice", Delta: d("-100")},
		{Ledger: "beta", Account: "bob", Delta: d("99")},
	}
	assert.NoError(t, AssertDelta(before, after, expected, decimal.Zero))
}

func TestAssertDeltaToleranceAbsorbsFees(t *testing.T) {
	before := []Snapshot{{Ledger: "beta", Account: "bob", Amount: d("0")}}
	after := []Snapshot{{Ledger: "beta", Account: "bob", Amount: d("98.5")}}
	expected := []Expectation{{Ledger: "beta", Account: "bob", Delta: d("99")}}

	assert.Error(t, AssertDelta(before, after, expected, decimal.Zero))
	assert.NoError(t, AssertDelta(before, after, expected, d("0.5")))
}

func TestAssertDeltaFlagsUnexpectedMovement(t *testing.T) {
	before := []Snapshot{{Ledger: "alpha", Account: "alice", Amount: d("100")}}
	after := []Snapshot{{Ledger: "alpha", Account: "alice", Amount: d("90")}}

	err := AssertDelta(before, after, nil, decimal.Zero)
	require.Error(t, err)

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	require.Len(t, fe.Mismatches, 1)
	assert.True(t, fe.Mismatches[0].Observed.Equal(d("-10")))
	assert.True(t, fe.Mismatches[0].Expected.IsZero())
	assert.Contains(t, err.Error(), "alpha/alice")
}
