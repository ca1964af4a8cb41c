package mock

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time            { return f.now }
func (f *fakeClock) Advance(dur time.Duration) { f.now = f.now.Add(dur) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func window(t *testing.T) timelock.Window {
	t.Helper()
	w, err := timelock.NewWindow(10*time.Second, 10*time.Second, 2*time.Minute, 10*time.Minute, 20*time.Minute)
	require.NoError(t, err)
	return w
}

func createReq(t *testing.T, c secrets.Commitment) escrow.CreateRequest {
	t.Helper()
	return escrow.CreateRequest{
		SwapID:       "swap-1",
		Side:         escrow.SideSource,
		Depositor:    "alice",
		Counterparty: "resolver",
		Amount:       d("100"),
		Commitment:   c,
		Window:       window(t),
	}
}

func TestCreateLocksFunds(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter("alpha")
	a.Fund("alice", d("100"))
	_, c, err := secrets.Generate()
	require.NoError(t, err)

	ref, err := a.Create(ctx, createReq(t, c))
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCreated, ref.Status)
	assert.Equal(t, "alpha", ref.Ledger)

	bal, err := a.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	ok, err := a.Exists(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateIdempotentPerSwapSide(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter("alpha")
	a.Fund("alice", d("100"))
	_, c, err := secrets.Generate()
	require.NoError(t, err)

	ref1, err := a.Create(ctx, createReq(t, c))
	require.NoError(t, err)
	ref2, err := a.Create(ctx, createReq(t, c))
	require.NoError(t, err)
	assert.Equal(t, ref1.ID, ref2.ID)

	// Funds were only locked once.
	bal, err := a.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestCreateInsufficientFundsRejected(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter("alpha")
	a.Fund("alice", d("50"))
	_, c, err := secrets.Generate()
	require.NoError(t, err)

	_, err = a.Create(ctx, createReq(t, c))
	assert.True(t, escrow.IsRejected(err))
}

func TestWithdrawEnforcesCommitmentAndTimelock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	a := NewAdapter("alpha").WithClock(clock.Now)
	a.Fund("alice", d("100"))
	s, c, err := secrets.Generate()
	require.NoError(t, err)

	ref, err := a.Create(ctx, createReq(t, c))
	require.NoError(t, err)

	// Before finality: rejected by the ledger itself.
	_, err = a.Withdraw(ctx, ref, s)
	assert.True(t, escrow.IsRejected(err))

	clock.Advance(11 * time.Second)

	// Wrong preimage: rejected.
	wrong, _, err := secrets.Generate()
	require.NoError(t, err)
	_, err = a.Withdraw(ctx, ref, wrong)
	assert.True(t, escrow.IsRejected(err))

	receipt, err := a.Withdraw(ctx, ref, s)
	require.NoError(t, err)
	assert.True(t, receipt.Amount.Equal(d("100")))

	bal, err := a.BalanceOf(ctx, "resolver")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("100")))

	// Double withdrawal: rejected.
	_, err = a.Withdraw(ctx, ref, s)
	assert.True(t, escrow.IsRejected(err))
}

func TestWithdrawClosedAfterCancellationWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	a := NewAdapter("alpha").WithClock(clock.Now)
	a.Fund("alice", d("100"))
	s, c, err := secrets.Generate()
	require.NoError(t, err)

	ref, err := a.Create(ctx, createReq(t, c))
	require.NoError(t, err)

	clock.Advance(11 * time.Minute)
	_, err = a.Withdraw(ctx, ref, s)
	assert.True(t, escrow.IsRejected(err))
}

func TestCancelRefundsDepositor(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	a := NewAdapter("alpha").WithClock(clock.Now)
	a.Fund("alice", d("100"))
	_, c, err := secrets.Generate()
	require.NoError(t, err)

	ref, err := a.Create(ctx, createReq(t, c))
	require.NoError(t, err)

	// Too early.
	_, err = a.Cancel(ctx, ref)
	assert.True(t, escrow.IsRejected(err))

	clock.Advance(11 * time.Minute)
	_, err = a.Cancel(ctx, ref)
	require.NoError(t, err)

	bal, err := a.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("100")))

	ok, err := a.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFailureInjection(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter("alpha")
	a.Fund("alice", d("100"))
	_, c, err := secrets.Generate()
	require.NoError(t, err)

	a.FailNextRetryable("create")
	_, err = a.Create(ctx, createReq(t, c))
	assert.True(t, escrow.IsRetryable(err))

	// Injection is consumed; the next call succeeds.
	_, err = a.Create(ctx, createReq(t, c))
	assert.NoError(t, err)
}

func TestWithdrawFeeReported(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	a := NewAdapter("alpha").WithClock(clock.Now).WithFee(d("0.25"))
	a.Fund("alice", d("100"))
	s, c, err := secrets.Generate()
	require.NoError(t, err)

	ref, err := a.Create(ctx, createReq(t, c))
	require.NoError(t, err)
	clock.Advance(11 * time.Second)

	receipt, err := a.Withdraw(ctx, ref, s)
	require.NoError(t, err)
	assert.True(t, receipt.Fee.Equal(d("0.25")))
	assert.True(t, receipt.Amount.Equal(d("99.75")))
}
