package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crosslock/swapcore/pkg/escrow"
	"github.com/crosslock/swapcore/pkg/secrets"
	"github.com/crosslock/swapcore/pkg/timelock"
)

// redisCASScript writes a record back only if the stored version is
// unchanged, making every mutation an atomic read-modify-write.
// KEYS[1] = swap hash key
// ARGV[1] = expected version
// ARGV[2] = new record JSON
// ARGV[3] = new state
var redisCASScript = redis.NewScript(`
local key = KEYS[1]
local expected = tonumber(ARGV[1])
local version = tonumber(redis.call("HGET", key, "version"))
if version ~= expected then
    return 0
end
redis.call("HSET", key, "record", ARGV[2], "state", ARGV[3], "version", version + 1)
return 1
`)

// RedisRegistry keeps swap records in Redis hashes, one hash per swap, with
// a version field guarding compare-and-swap mutations.
type RedisRegistry struct {
	client *redis.Client
	clock  func() time.Time
}

func NewRedisRegistry(addr, password string, db int) *RedisRegistry {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisRegistry{client: rdb, clock: time.Now}
}

// NewRedisRegistryFromClient wraps an existing client (used in tests).
func NewRedisRegistryFromClient(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (r *RedisRegistry) WithClock(clock func() time.Time) *RedisRegistry {
	r.clock = clock
	return r
}

func swapKey(id string) string {
	return fmt.Sprintf("swap:%s", id)
}

func (r *RedisRegistry) Begin(ctx context.Context, id string, commitment secrets.Commitment, window timelock.Window) (Record, error) {
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

	// HSETNX on the version field claims the key exactly once.
	claimed, err := r.client.HSetNX(ctx, swapKey(id), "version", 1).Result()
	if err != nil {
		return Record{}, fmt.Errorf("begin %s: %w", id, err)
	}
	if !claimed {
		return Record{}, fmt.Errorf("begin %s: %w", id, ErrDuplicateID)
	}
	if err := r.client.HSet(ctx, swapKey(id), "record", string(raw), "state", string(StatePending)).Err(); err != nil {
		return Record{}, fmt.Errorf("begin %s: %w", id, err)
	}
	if err := r.client.SAdd(ctx, "swaps", id).Err(); err != nil {
		return Record{}, fmt.Errorf("begin %s: index: %w", id, err)
	}
	return rec, nil
}

func (r *RedisRegistry) load(ctx context.Context, id string) (Record, int64, error) {
	vals, err := r.client.HMGet(ctx, swapKey(id), "record", "version").Result()
	if err != nil {
		return Record{}, 0, fmt.Errorf("load swap %s: %w", id, err)
	}
	rawAny, verAny := vals[0], vals[1]
	if rawAny == nil || verAny == nil {
		return Record{}, 0, fmt.Errorf("swap %s: %w", id, ErrNotFound)
	}

	var rec Record
	if err := json.Unmarshal([]byte(rawAny.(string)), &rec); err != nil {
		return Record{}, 0, fmt.Errorf("unmarshal swap %s: %w", id, err)
	}
	var version int64
	if _, err := fmt.Sscanf(verAny.(string), "%d", &version); err != nil {
		return Record{}, 0, fmt.Errorf("swap %s: bad version: %w", id, err)
	}
	return rec, version, nil
}

func (r *RedisRegistry) store(ctx context.Context, rec Record, version int64) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal swap %s: %w", rec.ID, err)
	}
	ok, err := redisCASScript.Run(ctx, r.client,
		[]string{swapKey(rec.ID)}, version, string(raw), string(rec.State)).Int()
	if err != nil {
		return fmt.Errorf("store swap %s: %w", rec.ID, err)
	}
	if ok == 0 {
		return fmt.Errorf("swap %s: concurrent modification: %w", rec.ID, ErrInvalidTransition)
	}
	return nil
}

func (r *RedisRegistry) AttachEscrow(ctx context.Context, id string, side escrow.Side, ref escrow.Ref) error {
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

func (r *RedisRegistry) Transition(ctx context.Context, id string, next State, mutate func(*Record)) (Record, error) {
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

func (r *RedisRegistry) SetEscrowStatus(ctx context.Context, id string, side escrow.Side, status escrow.Status) error {
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

func (r *RedisRegistry) Get(ctx context.Context, id string) (Record, error) {
	rec, _, err := r.load(ctx, id)
	return rec, err
}

func (r *RedisRegistry) List(ctx context.Context) ([]Record, error) {
	ids, err := r.client.SMembers(ctx, "swaps").Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, _, err := r.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
