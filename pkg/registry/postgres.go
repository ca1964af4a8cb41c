package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// PostgresRegistry is a durable SQL-based Registry for deployments where
// several coordinator processes share one database. Mutations use
// SELECT ... FOR UPDATE so writes on the same id serialize in the database.
type PostgresRegistry struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (r *PostgresRegistry) WithClock(clock func() time.Time) *PostgresRegistry {
	r.clock = clock
	return r
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS swaps (
	id TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	record JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Init ensures the schema exists.
func (r *PostgresRegistry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, pgSchema)
	return err
}

func (r *PostgresRegistry) Begin(ctx context.Context, id string, commitment secrets.Commitment, window timelock.Window) (Record, error) {
	if err := window.Validate(); err != nil {
		return Record{}, fmt.Errorf("begin %s: %w", id, err)
	}

	now := r.clock()
	rec := Record{
		ID:          id,
		Commitment:  commitment,
		CreatedAt:   now,
		UpdatedAt:   now,
		Window:      window,
		State:       StatePending,
		Source:      escrow.Ref{Side: escrow.SideSource, Status: escrow.StatusNone},
		Destination: escrow.Ref{Side: escrow.SideDestination, Status: escrow.StatusNone},
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal swap %s: %w", id, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO swaps (id, state, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, string(StatePending), raw, now, now)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return Record{}, fmt.Errorf("begin %s: %w", id, ErrDuplicateID)
		}
		return Record{}, fmt.Errorf("begin %s: %w", id, err)
	}
	return rec, nil
}

// update runs fn against the locked row and writes the result back.
func (r *PostgresRegistry) update(ctx context.Context, id string, fn func(*Record) error) (Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("swap %s: begin tx: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT record FROM swaps WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("swap %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load swap %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal swap %s: %w", id, err)
	}

	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	rec.UpdatedAt = r.clock()

	out, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal swap %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE swaps SET state = $1, record = $2, updated_at = $3 WHERE id = $4`,
		string(rec.State), out, rec.UpdatedAt, id); err != nil {
		return Record{}, fmt.Errorf("store swap %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit swap %s: %w", id, err)
	}
	return rec, nil
}

func (r *PostgresRegistry) AttachEscrow(ctx context.Context, id string, side escrow.Side, ref escrow.Ref) error {
	_, err := r.update(ctx, id, func(rec *Record) error {
		if rec.Escrow(side).Status != escrow.StatusNone {
			return fmt.Errorf("swap %s: %s escrow already attached: %w", id, side, ErrInvalidTransition)
		}
		ref.Side = side
		if ref.Status == "" || ref.Status == escrow.StatusNone {
			ref.Status = escrow.StatusCreated
		}
		rec.SetEscrow(side, ref)
		return nil
	})
	return err
}

func (r *PostgresRegistry) Transition(ctx context.Context, id string, next State, mutate func(*Record)) (Record, error) {
	return r.update(ctx, id, func(rec *Record) error {
		if !CanTransition(rec.State, next) {
			return fmt.Errorf("swap %s: %s -> %s: %w", id, rec.State, next, ErrInvalidTransition)
		}
		rec.State = next
		if mutate != nil {
			mutate(rec)
		}
		return nil
	})
}

func (r *PostgresRegistry) SetEscrowStatus(ctx context.Context, id string, side escrow.Side, status escrow.Status) error {
	_, err := r.update(ctx, id, func(rec *Record) error {
		ref := rec.Escrow(side)
		if ref.Status == escrow.StatusNone {
			return fmt.Errorf("swap %s: no %s escrow attached: %w", id, side, ErrInvalidTransition)
		}
		ref.Status = status
		rec.SetEscrow(side, ref)
		return nil
	})
	return err
}

func (r *PostgresRegistry) Get(ctx context.Context, id string) (Record, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `SELECT record FROM swaps WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("swap %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load swap %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal swap %s: %w", id, err)
	}
	return rec, nil
}

func (r *PostgresRegistry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT record FROM swaps ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
