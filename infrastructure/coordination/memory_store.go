package coordination

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// MemoryStore is the in-process implementation of Store. It backs tests and
// the degraded single-instance mode when the shared store is unreachable.
type MemoryStore struct {
	mu      sync.Mutex
	buffers map[string][]string
	gates   map[string]time.Time
	timers  map[string]map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buffers: make(map[string][]string),
		gates:   make(map[string]time.Time),
		timers:  make(map[string]map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) AppendBuffer(_ context.Context, key string, payload string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[key] = append(s.buffers[key], payload)
	return int64(len(s.buffers[key])), nil
}

func (s *MemoryStore) DrainBuffer(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.buffers[key]
	delete(s.buffers, key)
	return items, nil
}

func (s *MemoryStore) BufferLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.buffers[key])), nil
}

func (s *MemoryStore) ClaimGate(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if expiry, held := s.gates[key]; held && now.Before(expiry) {
		return false, nil
	}
	s.gates[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) ReleaseGate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.gates, key)
	return nil
}

func (s *MemoryStore) EnqueueTimer(_ context.Context, set, member string, fireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers[set] == nil {
		s.timers[set] = make(map[string]time.Time)
	}
	s.timers[set][member] = fireAt
	return nil
}

func (s *MemoryStore) RemoveTimer(_ context.Context, set, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.timers[set]
	if !ok {
		return false, nil
	}
	if _, exists := members[member]; !exists {
		return false, nil
	}
	delete(members, member)
	return true, nil
}

func (s *MemoryStore) DueTimers(_ context.Context, set string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type entry struct {
		member string
		fireAt time.Time
	}
	var due []entry
	for member, fireAt := range s.timers[set] {
		if !fireAt.After(now) {
			due = append(due, entry{member, fireAt})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].fireAt.Before(due[j].fireAt) })
	members := make([]string, 0, len(due))
	for _, e := range due {
		members = append(members, e.member)
	}
	return members, nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.ClaimGate(ctx, key, ttl)
}
