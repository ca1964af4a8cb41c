// Package mock implements escrow.Adapter over an in-memory ledger, for
// tests and demos. The mock behaves like a real ledger in the ways that
// matter: it verifies the revealed preimage against the escrow's commitment
// and enforces the timelock windows itself, because the ledger, not the
// coordinator, is the final arbiter.
package mock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

type heldEscrow struct {
	req       escrow.CreateRequest
	status    escrow.Status
	createdAt time.Time
}

// Adapter is a controllable in-memory ledger.
type Adapter struct {
	mu      sync.Mutex
	ledger  string
	clock   func() time.Time
	nextTx  int
	escrows map[string]*heldEscrow
	bySwap  map[string]string // swap id + side -> escrow id, for idempotent Create
	funds   map[string]decimal.Decimal
	fee     decimal.Decimal

	failNext map[string]error // op -> injected failure, consumed once
}

func NewAdapter(ledger string) *Adapter {
	return &Adapter{
		ledger:   ledger,
		clock:    time.Now,
		escrows:  make(map[string]*heldEscrow),
		bySwap:   make(map[string]string),
		funds:    make(map[string]decimal.Decimal),
		fee:      decimal.Zero,
		failNext: make(map[string]error),
	}
}

// WithClock overrides the ledger clock for testing.
func (a *Adapter) WithClock(clock func() time.Time) *Adapter {
	a.clock = clock
	return a
}

// WithFee charges a flat fee on withdrawals, to exercise reconciliation
// tolerances.
func (a *Adapter) WithFee(fee decimal.Decimal) *Adapter {
	a.fee = fee
	return a
}

// Fund credits an account.
func (a *Adapter) Fund(account string, amount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.funds[account] = a.balance(account).Add(amount)
}

// FailNextRetryable makes the next call of op fail as transient.
func (a *Adapter) FailNextRetryable(op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext[op] = escrow.MarkRetryable(op, fmt.Errorf("injected transient failure"))
}

// FailNextRejected makes the next call of op fail as a ledger rejection.
func (a *Adapter) FailNextRejected(op, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext[op] = escrow.MarkRejected(op, reason)
}

func (a *Adapter) injected(op string) error {
	if err, ok := a.failNext[op]; ok {
		delete(a.failNext, op)
		return err
	}
	return nil
}

func (a *Adapter) balance(account string) decimal.Decimal {
	if b, ok := a.funds[account]; ok {
		return b
	}
	return decimal.Zero
}

func (a *Adapter) txID() string {
	a.nextTx++
	return fmt.Sprintf("tx-%s-%d", a.ledger, a.nextTx)
}

func (a *Adapter) Ledger() string { return a.ledger }

// Create locks the depositor's funds behind the commitment. Idempotent per
// swap id and side: a repeated call returns the existing escrow.
func (a *Adapter) Create(ctx context.Context, req escrow.CreateRequest) (escrow.Ref, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injected("create"); err != nil {
		return escrow.Ref{}, err
	}

	key := req.SwapID + "/" + string(req.Side)
	if id, ok := a.bySwap[key]; ok {
		held := a.escrows[id]
		return escrow.Ref{ID: id, Ledger: a.ledger, Side: req.Side, Status: held.status}, nil
	}

	if a.balance(req.Depositor).LessThan(req.Amount) {
		return escrow.Ref{}, escrow.MarkRejected("create",
			fmt.Sprintf("insufficient funds: %s has %s, needs %s",
				req.Depositor, a.balance(req.Depositor), req.Amount))
	}

	id := fmt.Sprintf("esc-%s-%d", a.ledger, len(a.escrows)+1)
	a.funds[req.Depositor] = a.balance(req.Depositor).Sub(req.Amount)
	a.escrows[id] = &heldEscrow{req: req, status: escrow.StatusCreated, createdAt: a.clock()}
	a.bySwap[key] = id

	slog.Debug("mock escrow created", "ledger", a.ledger, "escrow", id, "amount", req.Amount)
	return escrow.Ref{ID: id, Ledger: a.ledger, Side: req.Side, Status: escrow.StatusCreated}, nil
}

func (a *Adapter) Exists(ctx context.Context, ref escrow.Ref) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injected("exists"); err != nil {
		return false, err
	}
	held, ok := a.escrows[ref.ID]
	return ok && held.status == escrow.StatusCreated, nil
}

// Withdraw releases the escrow to the counterparty if the preimage matches
// the commitment and the ledger's own timelock check passes.
func (a *Adapter) Withdraw(ctx context.Context, ref escrow.Ref, secret secrets.Secret) (escrow.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injected("withdraw"); err != nil {
		return escrow.Receipt{}, err
	}

	held, ok := a.escrows[ref.ID]
	if !ok {
		return escrow.Receipt{}, escrow.MarkRejected("withdraw", "unknown escrow "+ref.ID)
	}
	if held.status != escrow.StatusCreated {
		return escrow.Receipt{}, escrow.MarkRejected("withdraw",
			fmt.Sprintf("escrow %s is %s", ref.ID, held.status))
	}
	if !secrets.Verify(secret, held.req.Commitment) {
		return escrow.Receipt{}, escrow.MarkRejected("withdraw", "preimage does not match commitment")
	}

	elapsed := a.clock().Sub(held.createdAt)
	if !held.req.Window.FinalityElapsed(elapsed) {
		return escrow.Receipt{}, escrow.MarkRejected("withdraw", "finality lock not elapsed")
	}
	switch held.req.Window.Stage(elapsed) {
	case timelock.StageExclusiveWithdrawal, timelock.StagePublicWithdrawal:
		// open
	default:
		return escrow.Receipt{}, escrow.MarkRejected("withdraw", "withdrawal window closed")
	}

	payout := held.req.Amount.Sub(a.fee)
	a.funds[held.req.Counterparty] = a.balance(held.req.Counterparty).Add(payout)
	held.status = escrow.StatusWithdrawn

	return escrow.Receipt{
		TxID:      a.txID(),
		Ledger:    a.ledger,
		Amount:    payout,
		Fee:       a.fee,
		Timestamp: a.clock(),
	}, nil
}

// Cancel refunds the depositor once the ledger's cancellation window opens.
func (a *Adapter) Cancel(ctx context.Context, ref escrow.Ref) (escrow.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injected("cancel"); err != nil {
		return escrow.Receipt{}, err
	}

	held, ok := a.escrows[ref.ID]
	if !ok {
		return escrow.Receipt{}, escrow.MarkRejected("cancel", "unknown escrow "+ref.ID)
	}
	if held.status != escrow.StatusCreated {
		return escrow.Receipt{}, escrow.MarkRejected("cancel",
			fmt.Sprintf("escrow %s is %s", ref.ID, held.status))
	}

	elapsed := a.clock().Sub(held.createdAt)
	switch held.req.Window.Stage(elapsed) {
	case timelock.StageCancellable, timelock.StagePublicCancellable:
		// open
	default:
		return escrow.Receipt{}, escrow.MarkRejected("cancel", "cancellation window not open")
	}

	a.funds[held.req.Depositor] = a.balance(held.req.Depositor).Add(held.req.Amount)
	held.status = escrow.StatusCancelled

	return escrow.Receipt{
		TxID:      a.txID(),
		Ledger:    a.ledger,
		Amount:    held.req.Amount,
		Timestamp: a.clock(),
	}, nil
}

func (a *Adapter) BalanceOf(ctx context.Context, account string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.injected("balance_of"); err != nil {
		return decimal.Zero, err
	}
	return a.balance(account), nil
}
