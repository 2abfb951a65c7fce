package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type overrideAgent struct {
	provider string
	key      string
}

func (a overrideAgent) OverrideKey(provider string) string {
	if provider == a.provider {
		return a.key
	}
	return ""
}

func newTestPool(keys map[string][]string) *KeyPool {
	p := NewKeyPool(keys)
	p.jitter = func() time.Duration { return 0 }
	return p
}

func TestKeyPoolRoundRobin(t *testing.T) {
	p := newTestPool(map[string][]string{"anthropic": {"k1", "k2", "k3"}})

	var got []string
	for range 4 {
		key, err := p.GetKey("anthropic", nil)
		require.NoError(t, err)
		got = append(got, key)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1"}, got)
}

func TestKeyPoolEmptyProvider(t *testing.T) {
	p := newTestPool(map[string][]string{})
	_, err := p.GetKey("openai", nil)
	assert.ErrorIs(t, err, ErrNoKeysAvailable)
}

func TestKeyPoolAgentOverrideWins(t *testing.T) {
	p := newTestPool(map[string][]string{"anthropic": {"pool-key"}})
	ag := overrideAgent{provider: "anthropic", key: "agent-key"}

	key, err := p.GetKey("anthropic", ag)
	require.NoError(t, err)
	assert.Equal(t, "agent-key", key)

	assert.True(t, p.IsOverrideKey("anthropic", "agent-key", ag))
	assert.False(t, p.IsOverrideKey("anthropic", "pool-key", ag))
}

func TestKeyPoolRateLimitCooldown(t *testing.T) {
	p := newTestPool(map[string][]string{"openai": {"k1", "k2"}})
	now := time.Now()
	p.now = func() time.Time { return now }

	p.MarkRateLimited("openai", "k1", 30*time.Second)

	key, err := p.GetKey("openai", nil)
	require.NoError(t, err)
	assert.Equal(t, "k2", key)

	key, err = p.GetKey("openai", nil)
	require.NoError(t, err)
	assert.Equal(t, "k2", key, "cooling key stays out of rotation")

	now = now.Add(31 * time.Second)
	key, err = p.GetKey("openai", nil)
	require.NoError(t, err)
	assert.Equal(t, "k1", key)
}

func TestKeyPoolAllCoolingReturnsSoonest(t *testing.T) {
	p := newTestPool(map[string][]string{"gemini": {"k1", "k2"}})
	now := time.Now()
	p.now = func() time.Time { return now }

	p.MarkRateLimited("gemini", "k1", 10*time.Second)
	p.MarkRateLimited("gemini", "k2", 60*time.Second)

	key, err := p.GetKey("gemini", nil)
	require.NoError(t, err)
	assert.Equal(t, "k1", key, "soonest-available key is returned as last resort")
}

func TestKeyPoolDeadKeysStayDead(t *testing.T) {
	p := newTestPool(map[string][]string{"anthropic": {"k1", "k2"}})
	now := time.Now()
	p.now = func() time.Time { return now }

	p.MarkDead("anthropic", "k1")

	for range 3 {
		key, err := p.GetKey("anthropic", nil)
		require.NoError(t, err)
		assert.Equal(t, "k2", key)
	}

	p.MarkDead("anthropic", "k2")
	_, err := p.GetKey("anthropic", nil)
	assert.ErrorIs(t, err, ErrNoKeysAvailable)
}
