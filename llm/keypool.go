package llm

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Key-pool cooldown policy for rate-limited keys.
const (
	cooldownDefault = 30 * time.Second
	jitterMax       = 10 * time.Second
)

// ErrNoKeysAvailable means every key in the pool is dead or cooling down.
var ErrNoKeysAvailable = errors.New("no API keys available")

type keyState struct {
	key         string
	dead        bool
	availableAt time.Time
}

// KeyOverrider is the slice of the agent the pool needs: per-provider key
// overrides. Overrides are returned verbatim and never marked.
type KeyOverrider interface {
	OverrideKey(provider string) string
}

// KeyPool rotates API keys per LLM provider. Keys rate-limited with 429 are
// cooled down for retry-after (default 30s) plus jitter; keys failing auth
// are dead for the process lifetime.
type KeyPool struct {
	mu     sync.Mutex
	pools  map[string][]*keyState
	next   map[string]int
	now    func() time.Time
	jitter func() time.Duration
}

// NewKeyPool builds a pool from provider name -> key list.
func NewKeyPool(keys map[string][]string) *KeyPool {
	pools := make(map[string][]*keyState, len(keys))
	for provider, list := range keys {
		states := make([]*keyState, 0, len(list))
		for _, k := range list {
			states = append(states, &keyState{key: k})
		}
		pools[provider] = states
	}
	return &KeyPool{
		pools: pools,
		next:  make(map[string]int),
		now:   time.Now,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(jitterMax)))
		},
	}
}

// GetKey returns the agent override when present, otherwise the next usable
// pool key in round-robin order. When every key is cooling down, the one that
// frees up soonest is returned so the caller can back off on it.
func (p *KeyPool) GetKey(provider string, agent KeyOverrider) (string, error) {
	if agent != nil {
		if override := agent.OverrideKey(provider); override != "" {
			return override, nil
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	states := p.pools[provider]
	if len(states) == 0 {
		return "", ErrNoKeysAvailable
	}

	now := p.now()
	start := p.next[provider]
	var soonest *keyState

	for i := 0; i < len(states); i++ {
		s := states[(start+i)%len(states)]
		if s.dead {
			continue
		}
		if !s.availableAt.After(now) {
			p.next[provider] = (start + i + 1) % len(states)
			return s.key, nil
		}
		if soonest == nil || s.availableAt.Before(soonest.availableAt) {
			soonest = s
		}
	}

	if soonest != nil {
		logrus.Warnf("[KEY_POOL] All %s keys cooling down, reusing soonest-available", provider)
		return soonest.key, nil
	}
	return "", ErrNoKeysAvailable
}

// IsOverrideKey reports whether key is the agent's own override for provider.
func (p *KeyPool) IsOverrideKey(provider, key string, agent KeyOverrider) bool {
	if agent == nil || key == "" {
		return false
	}
	return agent.OverrideKey(provider) == key
}

// MarkRateLimited cools a pool key down for retryAfter (default cooldown when
// zero) plus jitter. Override keys never reach here.
func (p *KeyPool) MarkRateLimited(provider, key string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = cooldownDefault
	}
	cooldown := retryAfter + p.jitter()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.pools[provider] {
		if s.key == key {
			s.availableAt = p.now().Add(cooldown)
			logrus.Infof("[KEY_POOL] %s key ...%s rate limited, cooling down %s",
				provider, tail(key), cooldown.Round(time.Second))
			return
		}
	}
}

// MarkDead removes a pool key from rotation for the process lifetime.
func (p *KeyPool) MarkDead(provider, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.pools[provider] {
		if s.key == key {
			s.dead = true
			logrus.Errorf("[KEY_POOL] %s key ...%s marked dead (auth failure)", provider, tail(key))
			return
		}
	}
}

func tail(key string) string {
	if len(key) <= 4 {
		return key
	}
	return key[len(key)-4:]
}
