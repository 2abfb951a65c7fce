package coordination

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/infrastructure/valkey"
)

// ValkeyStore implements Store on a shared Valkey instance. On any transport
// error it degrades to an in-process fallback so a single-instance deployment
// keeps working through a store outage.
type ValkeyStore struct {
	client   *valkey.Client
	fallback *MemoryStore
}

func NewValkeyStore(client *valkey.Client) *ValkeyStore {
	return &ValkeyStore{
		client:   client,
		fallback: NewMemoryStore(),
	}
}

func (s *ValkeyStore) AppendBuffer(ctx context.Context, key string, payload string) (int64, error) {
	inner := s.client.Inner()
	n, err := inner.Do(ctx, inner.B().Rpush().Key(s.client.Key(key)).Element(payload).Build()).AsInt64()
	if err != nil {
		logrus.WithError(err).Warn("[COORDINATION] valkey append failed, using memory fallback")
		return s.fallback.AppendBuffer(ctx, key, payload)
	}
	return n, nil
}

func (s *ValkeyStore) DrainBuffer(ctx context.Context, key string) ([]string, error) {
	inner := s.client.Inner()
	full := s.client.Key(key)
	items, err := inner.Do(ctx, inner.B().Lrange().Key(full).Start(0).Stop(-1).Build()).AsStrSlice()
	if err != nil {
		logrus.WithError(err).Warn("[COORDINATION] valkey drain failed, using memory fallback")
		return s.fallback.DrainBuffer(ctx, key)
	}
	if err := inner.Do(ctx, inner.B().Del().Key(full).Build()).Error(); err != nil {
		return items, err
	}
	return items, nil
}

func (s *ValkeyStore) BufferLen(ctx context.Context, key string) (int64, error) {
	inner := s.client.Inner()
	n, err := inner.Do(ctx, inner.B().Llen().Key(s.client.Key(key)).Build()).AsInt64()
	if err != nil {
		return s.fallback.BufferLen(ctx, key)
	}
	return n, nil
}

func (s *ValkeyStore) ClaimGate(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	inner := s.client.Inner()
	resp := inner.Do(ctx, inner.B().Set().Key(s.client.Key(key)).Value("1").Nx().Ex(ttl).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsNil(err) {
			// NX miss: someone else holds the gate.
			return false, nil
		}
		logrus.WithError(err).Warn("[COORDINATION] valkey gate claim failed, using memory fallback")
		return s.fallback.ClaimGate(ctx, key, ttl)
	}
	return true, nil
}

func (s *ValkeyStore) ReleaseGate(ctx context.Context, key string) error {
	inner := s.client.Inner()
	if err := inner.Do(ctx, inner.B().Del().Key(s.client.Key(key)).Build()).Error(); err != nil {
		return s.fallback.ReleaseGate(ctx, key)
	}
	return nil
}

func (s *ValkeyStore) EnqueueTimer(ctx context.Context, set, member string, fireAt time.Time) error {
	inner := s.client.Inner()
	cmd := inner.B().Zadd().Key(s.client.Key(set)).ScoreMember().
		ScoreMember(float64(fireAt.Unix()), member).Build()
	if err := inner.Do(ctx, cmd).Error(); err != nil {
		logrus.WithError(err).Warn("[COORDINATION] valkey zadd failed, using memory fallback")
		return s.fallback.EnqueueTimer(ctx, set, member, fireAt)
	}
	return nil
}

func (s *ValkeyStore) RemoveTimer(ctx context.Context, set, member string) (bool, error) {
	inner := s.client.Inner()
	n, err := inner.Do(ctx, inner.B().Zrem().Key(s.client.Key(set)).Member(member).Build()).AsInt64()
	if err != nil {
		return s.fallback.RemoveTimer(ctx, set, member)
	}
	return n > 0, nil
}

func (s *ValkeyStore) DueTimers(ctx context.Context, set string, now time.Time) ([]string, error) {
	inner := s.client.Inner()
	cmd := inner.B().Zrangebyscore().Key(s.client.Key(set)).
		Min("-inf").Max(formatScore(now)).Build()
	members, err := inner.Do(ctx, cmd).AsStrSlice()
	if err != nil {
		return s.fallback.DueTimers(ctx, set, now)
	}
	return members, nil
}

func (s *ValkeyStore) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.ClaimGate(ctx, key, ttl)
}
