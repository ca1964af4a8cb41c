package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// SQLiteRegistry persists swap records in SQLite. Every mutation is a
// compare-and-swap on a version column, so concurrent writers to the same id
// serialize through the database rather than through in-process locks.
type SQLiteRegistry struct {
	db    *sql.DB
	clock func() time.Time
}

func NewSQLiteRegistry(db *sql.DB) (*SQLiteRegistry, error) {
	return NewSQLiteRegistryWithClock(db, time.Now)
}

func NewSQLiteRegistryWithClock(db *sql.DB, clock func() time.Time) (*SQLiteRegistry, error) {
	r := &SQLiteRegistry{db: db, clock: clock}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		record TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	_, err := r.db.ExecContext(context.Background(), query)
	return err
}

func (r *SQLiteRegistry) Begin(ctx context.Context, id string, commitment secrets.Commitment, window timelock.Window) (Record, error) {
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
		`INSERT INTO swaps (id, state, version, record, created_at, updated_at) VALUES (?, ?, 1, ?, ?, ?)`,
		id, string(StatePending), string(raw),
		now.UTC().Format(time.RFC3339Nano), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		// The only constraint on the table is the primary key.
		return Record{}, fmt.Errorf("begin %s: %w", id, ErrDuplicateID)
	}
	return rec, nil
}

// load reads a record and its version inside the given querier.
func (r *SQLiteRegistry) load(ctx context.Context, id string) (Record, int64, error) {
	var raw string
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT record, version FROM swaps WHERE id = ?`, id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, 0, fmt.Errorf("swap %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, 0, fmt.Errorf("load swap %s: %w", id, err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, 0, fmt.Errorf("unmarshal swap %s: %w", id, err)
	}
	return rec, version, nil
}

// store writes the record back iff the version is unchanged.
func (r *SQLiteRegistry) store(ctx context.Context, rec Record, version int64) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal swap %s: %w", rec.ID, err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE swaps SET state = ?, version = ?, record = ?, updated_at = ? WHERE id = ? AND version = ?`,
		string(rec.State), version+1, string(raw),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano), rec.ID, version)
	if err != nil {
		return fmt.Errorf("store swap %s: %w", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("swap %s: concurrent modification: %w", rec.ID, ErrInvalidTransition)
	}
	return nil
}

func (r *SQLiteRegistry) AttachEscrow(ctx context.Context, id string, side escrow.Side, ref escrow.Ref) error {
	rec, version, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if rec.Escrow(side).Status != escrow.StatusNone {
		return fmt.Errorf("swap %s: %s escrow already attached: %w", id, side, ErrInvalidTransition)
	}
	ref.Side = side
	if ref.Status == "" || ref.Status == escrow.StatusNone {
		ref.Status = escrow.StatusCreated
	}
	rec.SetEscrow(side, ref)
	rec.UpdatedAt = r.clock()
	return r.store(ctx, rec, version)
}

func (r *SQLiteRegistry) Transition(ctx context.Context, id string, next State, mutate func(*Record)) (Record, error) {
	rec, version, err := r.load(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !CanTransition(rec.State, next) {
		return Record{}, fmt.Errorf("swap %s: %s -> %s: %w", id, rec.State, next, ErrInvalidTransition)
	}
	rec.State = next
	if mutate != nil {
		mutate(&rec)
	}
	rec.UpdatedAt = r.clock()
	if err := r.store(ctx, rec, version); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *SQLiteRegistry) SetEscrowStatus(ctx context.Context, id string, side escrow.Side, status escrow.Status) error {
	rec, version, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	ref := rec.Escrow(side)
	if ref.Status == escrow.StatusNone {
		return fmt.Errorf("swap %s: no %s escrow attached: %w", id, side, ErrInvalidTransition)
	}
	ref.Status = status
	rec.SetEscrow(side, ref)
	rec.UpdatedAt = r.clock()
	return r.store(ctx, rec, version)
}

func (r *SQLiteRegistry) Get(ctx context.Context, id string) (Record, error) {
	rec, _, err := r.load(ctx, id)
	return rec, err
}

func (r *SQLiteRegistry) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT record FROM swaps ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
