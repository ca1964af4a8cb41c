package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// MemoryRegistry is the default in-process Registry. Each record carries its
// own lock so operations on distinct ids never contend; the outer lock only
// guards the map itself.
type MemoryRegistry struct {
	mu    sync.RWMutex
	swaps map[string]*memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	mu  sync.Mutex
	rec Record
}

func NewMemoryRegistry() *MemoryRegistry {
	return NewMemoryRegistryWithClock(time.Now)
}

func NewMemoryRegistryWithClock(clock func() time.Time) *MemoryRegistry {
	return &MemoryRegistry{
		swaps: make(map[string]*memoryEntry),
		clock: clock,
	}
}

func (m *MemoryRegistry) Begin(ctx context.Context, id string, commitment secrets.Commitment, window timelock.Window) (Record, error) {
	if err := window.Validate(); err != nil {
		return Record{}, fmt.Errorf("begin %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.swaps[id]; exists {
		return Record{}, fmt.Errorf("begin %s: %w", id, ErrDuplicateID)
	}

	now := m.clock()
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
	m.swaps[id] = &memoryEntry{rec: rec}
	return rec, nil
}

func (m *MemoryRegistry) entry(id string) (*memoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.swaps[id]
	if !ok {
		return nil, fmt.Errorf("swap %s: %w", id, ErrNotFound)
	}
	return e, nil
}

func (m *MemoryRegistry) AttachEscrow(ctx context.Context, id string, side escrow.Side, ref escrow.Ref) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec.Escrow(side).Status != escrow.StatusNone {
		return fmt.Errorf("swap %s: %s escrow already attached: %w", id, side, ErrInvalidTransition)
	}
	ref.Side = side
	if ref.Status == "" || ref.Status == escrow.StatusNone {
		ref.Status = escrow.StatusCreated
	}
	e.rec.SetEscrow(side, ref)
	e.rec.UpdatedAt = m.clock()
	return nil
}

func (m *MemoryRegistry) Transition(ctx context.Context, id string, next State, mutate func(*Record)) (Record, error) {
	e, err := m.entry(id)
	if err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !CanTransition(e.rec.State, next) {
		return Record{}, fmt.Errorf("swap %s: %s -> %s: %w", id, e.rec.State, next, ErrInvalidTransition)
	}
	e.rec.State = next
	if mutate != nil {
		mutate(&e.rec)
	}
	e.rec.UpdatedAt = m.clock()
	return e.rec, nil
}

func (m *MemoryRegistry) SetEscrowStatus(ctx context.Context, id string, side escrow.Side, status escrow.Status) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ref := e.rec.Escrow(side)
	if ref.Status == escrow.StatusNone {
		return fmt.Errorf("swap %s: no %s escrow attached: %w", id, side, ErrInvalidTransition)
	}
	ref.Status = status
	e.rec.SetEscrow(side, ref)
	e.rec.UpdatedAt = m.clock()
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, id string) (Record, error) {
	e, err := m.entry(id)
	if err != nil {
		return Record{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec, nil
}

func (m *MemoryRegistry) List(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.swaps))
	for _, e := range m.swaps {
		e.mu.Lock()
		out = append(out, e.rec)
		e.mu.Unlock()
	}
	return out, nil
}
