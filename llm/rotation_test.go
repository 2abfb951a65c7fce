package llm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Providers are cached by the factory and shared by every concurrent
// conversation, so key rotation must never tear the key/client pair a peer
// goroutine is reading. Run with the race detector.
func TestAnthropicRotationConcurrentWithReaders(t *testing.T) {
	pool := newTestPool(map[string][]string{"anthropic": {"k1", "k2", "k3"}})
	p, err := NewAnthropicProvider(pool, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if worker%2 == 0 {
					_, key := p.snapshot()
					assert.NotEmpty(t, key)
				} else {
					_, key := p.snapshot()
					if next, err := pool.GetKey("anthropic", nil); err == nil {
						p.rotateClient(key, next)
					}
				}
			}
		}()
	}
	wg.Wait()

	_, key := p.snapshot()
	assert.Contains(t, []string{"k1", "k2", "k3"}, key)
}

func TestAnthropicRotationIgnoresStaleKey(t *testing.T) {
	pool := newTestPool(map[string][]string{"anthropic": {"k1"}})
	p, err := NewAnthropicProvider(pool, nil)
	require.NoError(t, err)

	// A rotation decided against a key we no longer hold must not apply.
	p.rotateClient("some-older-key", "k9")
	_, key := p.snapshot()
	assert.Equal(t, "k1", key)

	p.rotateClient("k1", "k2")
	_, key = p.snapshot()
	assert.Equal(t, "k2", key)
}

func TestOpenAIRotationIgnoresStaleKey(t *testing.T) {
	pool := newTestPool(map[string][]string{"openai": {"k1"}})
	p, err := NewOpenAIProvider(pool, nil)
	require.NoError(t, err)

	p.rotateClient("some-older-key", "k9")
	_, key := p.snapshot()
	assert.Equal(t, "k1", key)
}

func TestGeminiRotationConcurrentWithReaders(t *testing.T) {
	pool := newTestPool(map[string][]string{"gemini": {"g1", "g2"}})
	p, err := NewGeminiProvider(pool, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for worker := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				key := p.currentKey()
				if worker%2 == 1 {
					if next, err := pool.GetKey("gemini", nil); err == nil {
						p.rotateKey(key, next)
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Contains(t, []string{"g1", "g2"}, p.currentKey())
}
