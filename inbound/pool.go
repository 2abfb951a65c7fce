package inbound

import (
	"hash/fnv"

	"github.com/sirupsen/logrus"
)

// WorkerPool executes inbound processing off the webhook goroutine while
// keeping per-conversation order: tasks sharing a key always land on the same
// shard and run serially.
type WorkerPool struct {
	shards []chan func()
}

func NewWorkerPool(size, queueSize int) *WorkerPool {
	if size <= 0 {
		size = 16
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	pool := &WorkerPool{shards: make([]chan func(), size)}
	for i := range pool.shards {
		shard := make(chan func(), queueSize)
		pool.shards[i] = shard
		go func() {
			for task := range shard {
				runTask(task)
			}
		}()
	}
	return pool
}

func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("[WORKER] Task panicked: %v", r)
		}
	}()
	task()
}

// Submit enqueues a task on the shard owning key. Returns false when the
// shard's queue is full; the caller decides whether dropping is acceptable.
func (p *WorkerPool) Submit(key string, task func()) bool {
	h := fnv.New32a()
	h.Write([]byte(key))
	shard := p.shards[h.Sum32()%uint32(len(p.shards))]

	select {
	case shard <- task:
		return true
	default:
		logrus.Warnf("[WORKER] Queue full, dropping task key=%s", key)
		return false
	}
}

// Close stops all workers after draining queued tasks.
func (p *WorkerPool) Close() {
	for _, shard := range p.shards {
		close(shard)
	}
}
