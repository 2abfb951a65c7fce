package batching

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/infrastructure/coordination"
)

const processingGateTTL = 30 * time.Second

// PendingMessage is one buffered inbound message awaiting batch processing.
type PendingMessage struct {
	Text        string    `json:"text"`
	MsgType     string    `json:"msg_type"`
	ImageBase64 string    `json:"image_base64,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// FlushFunc processes one drained batch for an (agent, phone) pair.
type FlushFunc func(ctx context.Context, agentID uint, phone string, batch []PendingMessage)

// Batcher groups rapid messages per (agent, phone) pair before AI processing.
// The buffer lives in the coordination store so any instance may flush it;
// the debounce timer is instance-local and restarted on every arrival. A
// short-lived gate makes the drain exclusive across instances.
type Batcher struct {
	store   coordination.Store
	flushFn FlushFunc

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewBatcher(store coordination.Store, flushFn FlushFunc) *Batcher {
	return &Batcher{
		store:   store,
		flushFn: flushFn,
		timers:  make(map[string]*time.Timer),
	}
}

func bufferKey(agentID uint, phone string) string {
	return fmt.Sprintf("msg_buffer:%d:%s", agentID, phone)
}

func gateKey(agentID uint, phone string) string {
	return fmt.Sprintf("msg_lock:%d:%s", agentID, phone)
}

// Add buffers a message. The batch flushes when the debounce window elapses
// without new arrivals or immediately once maxMessages accumulate. A zero
// debounce flushes synchronously.
func (b *Batcher) Add(ctx context.Context, agentID uint, phone string, msg PendingMessage, debounceSeconds, maxMessages int) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	count, err := b.store.AppendBuffer(ctx, bufferKey(agentID, phone), string(payload))
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%d:%s", agentID, phone)
	b.stopTimer(key)

	if debounceSeconds <= 0 {
		b.flush(ctx, agentID, phone)
		return nil
	}
	if maxMessages > 0 && count >= int64(maxMessages) {
		logrus.Debugf("[BATCHER] Max batch reached for %s (%d messages)", key, count)
		b.flush(ctx, agentID, phone)
		return nil
	}

	b.mu.Lock()
	b.timers[key] = time.AfterFunc(time.Duration(debounceSeconds)*time.Second, func() {
		b.stopTimer(key)
		b.flush(context.Background(), agentID, phone)
	})
	b.mu.Unlock()
	return nil
}

func (b *Batcher) stopTimer(key string) {
	b.mu.Lock()
	if t, ok := b.timers[key]; ok {
		t.Stop()
		delete(b.timers, key)
	}
	b.mu.Unlock()
}

// flush drains the buffer under the cross-instance gate and hands the batch
// to the flush callback.
func (b *Batcher) flush(ctx context.Context, agentID uint, phone string) {
	gate := gateKey(agentID, phone)
	owned, err := b.store.ClaimGate(ctx, gate, processingGateTTL)
	if err != nil {
		logrus.WithError(err).Warn("[BATCHER] Gate claim failed")
		return
	}
	if !owned {
		// Another instance is already draining this pair.
		return
	}
	defer func() {
		if err := b.store.ReleaseGate(ctx, gate); err != nil {
			logrus.WithError(err).Warn("[BATCHER] Gate release failed")
		}
	}()

	raw, err := b.store.DrainBuffer(ctx, bufferKey(agentID, phone))
	if err != nil {
		logrus.WithError(err).Warn("[BATCHER] Buffer drain failed")
		return
	}
	if len(raw) == 0 {
		return
	}

	batch := make([]PendingMessage, 0, len(raw))
	for _, item := range raw {
		var msg PendingMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logrus.WithError(err).Warn("[BATCHER] Dropping undecodable buffered message")
			continue
		}
		batch = append(batch, msg)
	}
	if len(batch) == 0 {
		return
	}

	logrus.Infof("[BATCHER] Flushing agent=%d phone=%s (parts: %d)", agentID, phone, len(batch))
	b.flushFn(ctx, agentID, phone, batch)
}

// CombinedText joins the batch's text parts with newlines, mirroring how a
// customer would read their own burst of messages.
func CombinedText(batch []PendingMessage) string {
	switch len(batch) {
	case 0:
		return ""
	case 1:
		return batch[0].Text
	}
	parts := make([]string, 0, len(batch))
	for _, msg := range batch {
		if msg.Text != "" {
			parts = append(parts, msg.Text)
		}
	}
	return strings.Join(parts, "\n")
}
