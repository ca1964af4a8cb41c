// Package coordinator drives a linked pair of escrows through the swap
// state machine.
//
// The coordinator observes both ledgers through escrow.Adapter capabilities
// and never lets them talk to each other. Its one correctness rule: the
// escrow created second (destination) is withdrawn first using the secret;
// the escrow created first (source) is withdrawn second, reusing the
// now-public secret. Either side can watch the other chain's public
// withdrawal to learn the secret, which is what makes the protocol safe
// without a trusted middleman.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/journal"
	"github.com/crosslock/swapcore/pkg/registry"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// LegSpec describes one side of a swap.
type LegSpec struct {
	Depositor    string
	Counterparty string
	Amount       decimal.Decimal
}

// StartRequest carries everything needed to open a swap.
type StartRequest struct {
	// ID is optional; a UUID is generated when empty.
	ID          string
	Window      timelock.Window
	Source      LegSpec
	Destination LegSpec
}

// Coordinator processes swaps as independent units of work: one logical
// task per swap id, serialized per id, parallel across ids.
type Coordinator struct {
	reg    registry.Registry
	source escrow.Adapter
	dest   escrow.Adapter

	clock   func() time.Time
	log     *slog.Logger
	journal *journal.Journal
	retry   RetryPolicy

	breakers map[escrow.Side]*CircuitBreaker
	limiters map[escrow.Side]*rate.Limiter

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the time source for testing.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

// WithLogger replaces the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithJournal attaches a hash-chained lifecycle journal.
func WithJournal(j *journal.Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithRetryPolicy overrides the boundary retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Coordinator) { c.retry = p }
}

// WithBreaker installs circuit breakers on both adapters.
func WithBreaker(threshold int, reset time.Duration) Option {
	return func(c *Coordinator) {
		c.breakers = map[escrow.Side]*CircuitBreaker{
			escrow.SideSource:      NewCircuitBreaker("source adapter", threshold, reset),
			escrow.SideDestination: NewCircuitBreaker("destination adapter", threshold, reset),
		}
	}
}

// WithRateLimit bounds boundary calls per adapter. Per-ledger rate limits
// are the adapters' concern; this is a courtesy throttle on top.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Coordinator) {
		c.limiters = map[escrow.Side]*rate.Limiter{
			escrow.SideSource:      rate.NewLimiter(limit, burst),
			escrow.SideDestination: rate.NewLimiter(limit, burst),
		}
	}
}

// New builds a Coordinator over one registry and two ledger adapters.
func New(reg registry.Registry, source, dest escrow.Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg:    reg,
		source: source,
		dest:   dest,
		clock:  time.Now,
		log:    slog.Default(),
		retry:  DefaultRetryPolicy(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// lock serializes all coordinator operations on one swap id.
func (c *Coordinator) lock(id string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[id] = mu
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (c *Coordinator) adapter(side escrow.Side) escrow.Adapter {
	if side == escrow.SideSource {
		return c.source
	}
	return c.dest
}

// boundary wraps one adapter call with rate limiting, circuit breaking and
// the retry policy.
func (c *Coordinator) boundary(ctx context.Context, side escrow.Side, op string, fn func() error) error {
	return c.retry.Do(ctx, op, func() error {
		if lim := c.limiters[side]; lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}
		if cb := c.breakers[side]; cb != nil {
			if !cb.Allow() {
				return cb.Err()
			}
			err := fn()
			if err != nil {
				cb.Failure()
			} else {
				cb.Success()
			}
			return err
		}
		return fn()
	})
}

func (c *Coordinator) record(swapID string, typ journal.EventType, from, to string, detail map[string]string) {
	if c.journal == nil {
		return
	}
	if _, err := c.journal.Append(swapID, typ, from, to, detail); err != nil {
		c.log.Warn("journal append failed", "swap_id", swapID, "error", err)
	}
}

// elapsed is the policy clock for a swap.
func (c *Coordinator) elapsed(rec registry.Record) time.Duration {
	return c.clock().Sub(rec.CreatedAt)
}

// checkPolicy re-evaluates the timelock immediately before a boundary call.
// Decisions are never cached: wall-clock time advances between decision and
// execution.
func (c *Coordinator) checkPolicy(rec registry.Record, action timelock.Action, role timelock.Role) error {
	elapsed := c.elapsed(rec)
	if rec.Window.IsPermitted(action, role, elapsed) {
		return nil
	}
	stage, wait := rec.Window.Deny(action, elapsed)
	return &PolicyViolationError{SwapID: rec.ID, Action: action, Stage: stage, Wait: wait}
}

// fail transitions the swap to Failed, preserving the boundary error.
func (c *Coordinator) fail(ctx context.Context, id string, cause error) {
	_, err := c.reg.Transition(ctx, id, registry.StateFailed, func(r *registry.Record) {
		r.LastError = cause.Error()
	})
	if err != nil {
		c.log.Error("could not mark swap failed", "swap_id", id, "error", err)
		return
	}
	c.record(id, journal.EventTransition, "", string(registry.StateFailed),
		map[string]string{"error": cause.Error()})
	c.log.Error("swap failed", "swap_id", id, "error", cause)
}

// cancelFailed records a cancellation failure. A swap already in Failed
// stays there with the new error logged; anything else transitions to
// Failed.
func (c *Coordinator) cancelFailed(ctx context.Context, rec registry.Record, cause error) {
	if rec.State == registry.StateFailed {
		c.log.Error("cancel attempt failed", "swap_id", rec.ID, "error", cause)
		return
	}
	c.fail(ctx, rec.ID, cause)
}

// StartSwap generates the secret/commitment pair, registers the swap and
// creates both escrows, source first. The secret is returned to the caller
// (the party that later authorizes completion) and is not persisted.
func (c *Coordinator) StartSwap(ctx context.Context, req StartRequest) (registry.Record, secrets.Secret, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	secret, commitment, err := secrets.Generate()
	if err != nil {
		return registry.Record{}, secrets.Secret{}, fmt.Errorf("start swap %s: %w", id, err)
	}

	unlock := c.lock(id)
	defer unlock()

	rec, err := c.reg.Begin(ctx, id, commitment, req.Window)
	if err != nil {
		return registry.Record{}, secrets.Secret{}, err
	}
	c.log.Info("swap registered",
		"swap_id", id,
		"commitment", commitment.String(),
		"source_ledger", c.source.Ledger(),
		"dest_ledger", c.dest.Ledger())

	legs := []struct {
		side  escrow.Side
		spec  LegSpec
		next  registry.State
		label string
	}{
		{escrow.SideSource, req.Source, registry.StateSourceEscrowed, "source"},
		{escrow.SideDestination, req.Destination, registry.StateBothEscrowed, "destination"},
	}

	for _, leg := range legs {
		adapter := c.adapter(leg.side)
		var ref escrow.Ref
		op := fmt.Sprintf("create %s escrow", leg.label)
		err := c.boundary(ctx, leg.side, op, func() error {
			var cerr error
			ref, cerr = adapter.Create(ctx, escrow.CreateRequest{
				SwapID:       id,
				Side:         leg.side,
				Depositor:    leg.spec.Depositor,
				Counterparty: leg.spec.Counterparty,
				Amount:       leg.spec.Amount,
				Commitment:   commitment,
				Window:       req.Window,
			})
			return cerr
		})
		if err != nil {
			c.fail(ctx, id, err)
			return registry.Record{}, secrets.Secret{}, fmt.Errorf("swap %s: %s: %w", id, op, err)
		}

		if err := c.reg.AttachEscrow(ctx, id, leg.side, ref); err != nil {
			return registry.Record{}, secrets.Secret{}, err
		}
		prev := rec.State
		rec, err = c.reg.Transition(ctx, id, leg.next, nil)
		if err != nil {
			return registry.Record{}, secrets.Secret{}, err
		}
		c.record(id, journal.EventEscrow, string(prev), string(leg.next),
			map[string]string{"side": string(leg.side), "ref": ref.ID, "ledger": ref.Ledger})
		c.log.Info("escrow created",
			"swap_id", id, "side", leg.side, "ref", ref.ID, "ledger", adapter.Ledger())
	}

	return rec, secret, nil
}

// CompleteSwap reveals the secret and withdraws both legs: destination
// first, then source with the now-public secret. Any irrecoverable failure
// after the reveal leaves the swap PartiallyCompleted for an operator.
func (c *Coordinator) CompleteSwap(ctx context.Context, id string, secret secrets.Secret) (registry.Record, error) {
	unlock := c.lock(id)
	defer unlock()

	rec, err := c.reg.Get(ctx, id)
	if err != nil {
		return registry.Record{}, err
	}

	if rec.State != registry.StateBothEscrowed {
		return registry.Record{}, fmt.Errorf("swap %s: complete from %s: %w",
			id, rec.State, registry.ErrInvalidTransition)
	}

	// Pre-check only; each ledger re-verifies the preimage itself.
	if !secrets.Verify(secret, rec.Commitment) {
		return registry.Record{}, fmt.Errorf("swap %s: %w", id, ErrSecretMismatch)
	}

	// The finality lock must have elapsed before the secret leaves this
	// process. No adapter is called on a policy violation.
	if err := c.checkPolicy(rec, timelock.ActionWithdraw, timelock.RoleCounterparty); err != nil {
		return registry.Record{}, err
	}

	rec, err = c.reg.Transition(ctx, id, registry.StateSecretRevealed, func(r *registry.Record) {
		r.RevealedSecret = secret.Hex()
	})
	if err != nil {
		return registry.Record{}, err
	}
	c.record(id, journal.EventTransition, string(registry.StateBothEscrowed),
		string(registry.StateSecretRevealed), nil)
	c.log.Info("secret revealed", "swap_id", id)

	// Destination escrow was created second; it is withdrawn first.
	withdrawals := []struct {
		side  escrow.Side
		label string
	}{
		{escrow.SideDestination, "destination"},
		{escrow.SideSource, "source"},
	}

	for _, wd := range withdrawals {
		// Re-check policy right before the call; an in-flight attempt is
		// never aborted once issued, the ledger is the final arbiter.
		if perr := c.checkPolicy(rec, timelock.ActionWithdraw, timelock.RoleCounterparty); perr != nil {
			return c.partiallyComplete(ctx, id, perr)
		}

		adapter := c.adapter(wd.side)
		ref := rec.Escrow(wd.side)
		op := fmt.Sprintf("withdraw %s escrow", wd.label)

		var receipt escrow.Receipt
		err := c.boundary(ctx, wd.side, op, func() error {
			var werr error
			receipt, werr = adapter.Withdraw(ctx, ref, secret)
			return werr
		})
		if err != nil {
			return c.partiallyComplete(ctx, id, fmt.Errorf("%s: %w", op, err))
		}

		if err := c.reg.SetEscrowStatus(ctx, id, wd.side, escrow.StatusWithdrawn); err != nil {
			return registry.Record{}, err
		}
		c.record(id, journal.EventEscrow, "", "", map[string]string{
			"side": string(wd.side), "action": "withdrawn", "tx": receipt.TxID})
		c.log.Info("escrow withdrawn",
			"swap_id", id, "side", wd.side, "tx", receipt.TxID, "ledger", adapter.Ledger())
	}

	rec, err = c.reg.Transition(ctx, id, registry.StateCompleted, nil)
	if err != nil {
		return registry.Record{}, err
	}
	c.record(id, journal.EventTransition, string(registry.StateSecretRevealed),
		string(registry.StateCompleted), nil)
	c.log.Info("swap completed", "swap_id", id)
	return rec, nil
}

// partiallyComplete parks a post-reveal swap for manual recovery. The secret
// may already be public; no automatic remediation is safe here.
func (c *Coordinator) partiallyComplete(ctx context.Context, id string, cause error) (registry.Record, error) {
	rec, terr := c.reg.Transition(ctx, id, registry.StatePartiallyCompleted, func(r *registry.Record) {
		r.LastError = cause.Error()
	})
	if terr != nil {
		return registry.Record{}, fmt.Errorf("swap %s: %v (and could not park: %w)", id, cause, terr)
	}
	c.record(id, journal.EventTransition, string(registry.StateSecretRevealed),
		string(registry.StatePartiallyCompleted), map[string]string{"error": cause.Error()})
	c.log.Error("swap parked for manual recovery", "swap_id", id, "error", cause)
	return rec, fmt.Errorf("swap %s: %w", id, cause)
}

// CancelSwap reclaims whichever escrows exist. With both escrows live the
// depositor's cancellation window must be open; a swap that never escrowed
// one side may be reclaimed immediately. Each adapter independently
// enforces its own ledger-level timelock; the coordinator only invokes.
func (c *Coordinator) CancelSwap(ctx context.Context, id string) (registry.Record, error) {
	unlock := c.lock(id)
	defer unlock()

	rec, err := c.reg.Get(ctx, id)
	if err != nil {
		return registry.Record{}, err
	}

	if !registry.CanTransition(rec.State, registry.StateCancelled) {
		return registry.Record{}, fmt.Errorf("swap %s: cancel from %s: %w",
			id, rec.State, registry.ErrInvalidTransition)
	}

	bothEscrowed := rec.Source.Status != escrow.StatusNone &&
		rec.Destination.Status != escrow.StatusNone
	if bothEscrowed {
		if err := c.checkPolicy(rec, timelock.ActionCancel, timelock.RoleDepositor); err != nil {
			return registry.Record{}, err
		}
	}

	for _, side := range []escrow.Side{escrow.SideDestination, escrow.SideSource} {
		ref := rec.Escrow(side)
		if ref.Status != escrow.StatusCreated {
			continue
		}

		adapter := c.adapter(side)
		op := fmt.Sprintf("cancel %s escrow", side)

		// If a prior attempt's outcome is unknown, confirm the escrow is
		// still live before acting on it.
		var exists bool
		err := c.boundary(ctx, side, op+" (exists)", func() error {
			var eerr error
			exists, eerr = adapter.Exists(ctx, ref)
			return eerr
		})
		if err != nil {
			c.cancelFailed(ctx, rec, err)
			return registry.Record{}, fmt.Errorf("swap %s: %s: %w", id, op, err)
		}
		if !exists {
			continue
		}

		var receipt escrow.Receipt
		err = c.boundary(ctx, side, op, func() error {
			var cerr error
			receipt, cerr = adapter.Cancel(ctx, ref)
			return cerr
		})
		if err != nil {
			c.cancelFailed(ctx, rec, err)
			return registry.Record{}, fmt.Errorf("swap %s: %s: %w", id, op, err)
		}

		if err := c.reg.SetEscrowStatus(ctx, id, side, escrow.StatusCancelled); err != nil {
			return registry.Record{}, err
		}
		c.record(id, journal.EventEscrow, "", "", map[string]string{
			"side": string(side), "action": "cancelled", "tx": receipt.TxID})
		c.log.Info("escrow cancelled",
			"swap_id", id, "side", side, "tx", receipt.TxID, "ledger", adapter.Ledger())
	}

	prev := rec.State
	rec, err = c.reg.Transition(ctx, id, registry.StateCancelled, nil)
	if err != nil {
		return registry.Record{}, err
	}
	c.record(id, journal.EventTransition, string(prev), string(registry.StateCancelled), nil)
	c.log.Info("swap cancelled", "swap_id", id)
	return rec, nil
}

// GetSwap returns the current record.
func (c *Coordinator) GetSwap(ctx context.Context, id string) (registry.Record, error) {
	return c.reg.Get(ctx, id)
}
