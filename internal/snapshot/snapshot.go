package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypointlabs/verdict/internal/cache"
	"github.com/waypointlabs/verdict/internal/canon"
	"github.com/waypointlabs/verdict/pkg/types"
)

// LookupState classifies the outcome of a snapshot read.
type LookupState string

const (
	StateHit         LookupState = "hit"
	StateMiss        LookupState = "miss"
	StateStale       LookupState = "stale"
	StateLocked      LookupState = "locked"
	StateUnavailable LookupState = "unavailable"
)

type Lookup struct {
	State             LookupState
	Response          types.Response
	AgeSeconds        int
	RetryAfterSeconds int
}

// AcquireState classifies a lock-acquisition attempt. Unavailable means the
// cache backend itself is unreachable; callers proceed uncached rather than
// failing the request.
type AcquireState string

const (
	AcquireOK          AcquireState = "acquired"
	AcquireHeld        AcquireState = "held"
	AcquireUnavailable AcquireState = "unavailable"
)

// Cache serves previously computed default-input responses per topic and
// coalesces concurrent recomputation through a short-lived exclusive lease.
type Cache struct {
	provider cache.Provider
	ttl      time.Duration
	lockTTL  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func New(provider cache.Provider, ttl, lockTTL time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		provider: provider,
		ttl:      ttl,
		lockTTL:  lockTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// lease is the lock value: holder id plus expiry for observability. The
// provider's TTL, not the until field, is what actually expires the lease.
type lease struct {
	LockID string `json:"lock_id"`
	Until  string `json:"until"`
}

// IsDefaultInput reports whether every personalization field equals its
// canonical default, i.e. the same answer would be served to any anonymous
// visitor of the topic. Only such requests may touch the snapshot cache.
func IsDefaultInput(env types.Envelope) bool {
	if env.TopicID == "" || env.Task != types.TaskDecision {
		return false
	}

	uc := env.UserContext
	if uc.Dates.Type != types.DatesFlexible || uc.Dates.Start != "" || uc.Dates.End != "" || uc.Dates.Month != "" {
		return false
	}
	if uc.BudgetBand != types.BudgetMid {
		return false
	}
	if uc.ComfortTier != "" && uc.ComfortTier != types.ComfortMid {
		return false
	}
	if uc.PartySize != 0 && uc.PartySize != 2 {
		return false
	}
	return len(uc.Constraints) == 0
}

// InputsHash digests the fields that influence generation. Two envelopes
// with equal hashes would produce the same default answer.
func InputsHash(env types.Envelope) string {
	view := map[string]any{
		"task":         env.Task,
		"question":     env.Question,
		"destinations": env.Destinations,
		"dates":        env.UserContext.Dates,
		"budget_band":  env.UserContext.BudgetBand,
		"comfort_tier": env.UserContext.ComfortTier,
		"party_size":   env.UserContext.PartySize,
		"constraints":  env.UserContext.Constraints,
	}
	digest, err := canon.Digest(view)
	if err != nil {
		// The view holds only strings and integers, so this path is
		// unreachable in practice; a plain marshal still yields a
		// usable key.
		raw, _ := json.Marshal(view)
		sum := sha256.Sum256(raw)
		return "sha256:" + hex.EncodeToString(sum[:])
	}
	return digest
}

// Get looks up the snapshot for a topic. A fresh entry with a matching
// inputs hash is a hit; a held lease reports locked with a retry hint;
// an expired-but-present entry reports stale so the caller may refresh.
func (c *Cache) Get(ctx context.Context, topicID, inputsHash string) Lookup {
	raw, err := c.provider.Get(ctx, snapshotKey(topicID))
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		c.logger.Warn("snapshot backend unavailable", zap.String("topic_id", topicID), zap.Error(err))
		return Lookup{State: StateUnavailable}
	}

	var rec *types.SnapshotRecord
	if err == nil {
		var parsed types.SnapshotRecord
		if jsonErr := json.Unmarshal(raw, &parsed); jsonErr != nil {
			c.logger.Warn("snapshot entry corrupt, ignoring", zap.String("topic_id", topicID), zap.Error(jsonErr))
		} else if parsed.InputsHash == inputsHash {
			rec = &parsed
		}
	}

	if rec != nil && !c.expired(*rec) {
		return Lookup{
			State:      StateHit,
			Response:   rec.Response,
			AgeSeconds: c.age(*rec),
		}
	}

	if retryAfter, held := c.lockHeld(ctx, topicID); held {
		return Lookup{State: StateLocked, RetryAfterSeconds: retryAfter}
	}

	if rec != nil {
		return Lookup{
			State:      StateStale,
			Response:   rec.Response,
			AgeSeconds: c.age(*rec),
		}
	}
	return Lookup{State: StateMiss}
}

// AcquireLock claims the topic's lease via a conditional write. The lease
// expires on its own after lockTTL, so a crashed holder cannot wedge the
// topic past that window.
func (c *Cache) AcquireLock(ctx context.Context, topicID string) (string, AcquireState) {
	lockID := uuid.NewString()
	value, _ := json.Marshal(lease{
		LockID: lockID,
		Until:  c.now().Add(c.lockTTL).UTC().Format(time.RFC3339),
	})

	ok, err := c.provider.SetNX(ctx, lockKey(topicID), value, c.lockTTL)
	if err != nil {
		c.logger.Warn("lock backend unavailable", zap.String("topic_id", topicID), zap.Error(err))
		return "", AcquireUnavailable
	}
	if !ok {
		return "", AcquireHeld
	}
	return lockID, AcquireOK
}

// ReleaseLock drops the lease if this caller still holds it. Releasing a
// lease that expired and was re-acquired by someone else is a no-op. The
// check and the delete are two provider calls, so a lease that expires and
// is re-acquired between them can be deleted out from under the new
// holder; the cost is one redundant regeneration, never a wrong answer,
// and the window is bounded by a single provider round trip.
func (c *Cache) ReleaseLock(ctx context.Context, topicID, lockID string) {
	raw, err := c.provider.Get(ctx, lockKey(topicID))
	if err != nil {
		return
	}

	var l lease
	if json.Unmarshal(raw, &l) != nil || l.LockID != lockID {
		return
	}
	if err := c.provider.Del(ctx, lockKey(topicID)); err != nil {
		c.logger.Warn("lock release failed", zap.String("topic_id", topicID), zap.Error(err))
	}
}

// Store writes the freshly computed response as the topic's snapshot. The
// physical TTL is twice the logical one so a stale entry stays readable
// for serve-stale decisions before it vanishes.
func (c *Cache) Store(ctx context.Context, topicID string, resp types.Response, inputsHash string) error {
	now := c.now().UTC()
	rec := types.SnapshotRecord{
		TopicID:    topicID,
		Response:   resp,
		InputsHash: inputsHash,
		CreatedAt:  now.Format(time.RFC3339),
		ExpiresAt:  now.Add(c.ttl).Format(time.RFC3339),
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return c.provider.Set(ctx, snapshotKey(topicID), raw, 2*c.ttl)
}

// Invalidate removes a topic's snapshot. Operator action.
func (c *Cache) Invalidate(ctx context.Context, topicID string) error {
	return c.provider.Del(ctx, snapshotKey(topicID))
}

func (c *Cache) lockHeld(ctx context.Context, topicID string) (int, bool) {
	raw, err := c.provider.Get(ctx, lockKey(topicID))
	if err != nil {
		return 0, false
	}

	retryAfter := int(c.lockTTL.Seconds())
	var l lease
	if json.Unmarshal(raw, &l) == nil {
		if until, parseErr := time.Parse(time.RFC3339, l.Until); parseErr == nil {
			if remaining := int(until.Sub(c.now()).Seconds()); remaining > 0 && remaining < retryAfter {
				retryAfter = remaining
			}
		}
	}
	if retryAfter < 1 {
		retryAfter = 1
	}
	return retryAfter, true
}

func (c *Cache) expired(rec types.SnapshotRecord) bool {
	expires, err := time.Parse(time.RFC3339, rec.ExpiresAt)
	if err != nil {
		return true
	}
	return c.now().After(expires)
}

func (c *Cache) age(rec types.SnapshotRecord) int {
	created, err := time.Parse(time.RFC3339, rec.CreatedAt)
	if err != nil {
		return 0
	}
	age := int(c.now().Sub(created).Seconds())
	if age < 0 {
		age = 0
	}
	return age
}

func snapshotKey(topicID string) string { return "verdict:snapshot:" + topicID }
func lockKey(topicID string) string     { return "verdict:snaplock:" + topicID }
