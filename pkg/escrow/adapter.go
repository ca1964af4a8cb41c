// Package escrow defines the capability contract between the swap
// coordinator and a concrete ledger integration.
//
// The coordinator consumes this interface and never branches on which chain
// is behind it. All identifiers are opaque strings from the coordinator's
// point of view; the adapter owns every ledger-specific concern (transaction
// construction, signing, fees) and is the actual security boundary: it must
// verify a revealed secret against the escrow's commitment at the ledger
// level, not trust the coordinator's pre-check.
package escrow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// Side tags which leg of a swap an escrow belongs to.
type Side string

const (
	SideSource      Side = "SOURCE"
	SideDestination Side = "DESTINATION"
)

// Status is the lifecycle of a single escrow.
type Status string

const (
	StatusNone      Status = "NONE"
	StatusCreated   Status = "CREATED"
	StatusWithdrawn Status = "WITHDRAWN"
	StatusCancelled Status = "CANCELLED"
)

// Ref is an opaque, ledger-scoped handle to an escrow.
type Ref struct {
	ID     string `json:"id"`
	Ledger string `json:"ledger"`
	Side   Side   `json:"side"`
	Status Status `json:"status"`
}

// CreateRequest carries everything an adapter needs to lock funds.
type CreateRequest struct {
	SwapID       string
	Side         Side
	Depositor    string
	Counterparty string
	Amount       decimal.Decimal
	Commitment   secrets.Commitment
	Window       timelock.Window
}

// Receipt is the adapter's acknowledgement of a withdraw or cancel.
type Receipt struct {
	TxID      string
	Ledger    string
	Amount    decimal.Decimal
	Fee       decimal.Decimal
	Timestamp time.Time
}

// Adapter is implemented once per ledger by an external collaborator.
// Implementations own no swap state; each call is a stateless capability
// invocation. Create must be idempotent from the coordinator's point of
// view: if a prior attempt's outcome is unknown the coordinator calls
// Exists before retrying rather than double-creating.
type Adapter interface {
	Create(ctx context.Context, req CreateRequest) (Ref, error)
	Exists(ctx context.Context, ref Ref) (bool, error)
	Withdraw(ctx context.Context, ref Ref, secret secrets.Secret) (Receipt, error)
	Cancel(ctx context.Context, ref Ref) (Receipt, error)
	BalanceOf(ctx context.Context, account string) (decimal.Decimal, error)

	// Ledger names the ledger this adapter fronts, for logging and
	// reconciliation.
	Ledger() string
}
