package dispatch

import (
	"context"
	"sort"
	"sync"
)

// keyedLocks hands out per-key locks in arrival order.
type keyedLocks struct {
	mu     sync.Mutex
	queues map[string][]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{queues: make(map[string][]chan struct{})}
}

// lock acquires every key, in sorted order so two callers sharing keys
// cannot deadlock. The returned function releases them all.
func (k *keyedLocks) lock(ctx context.Context, keys ...string) (func(), error) {
	keys = uniqueSorted(keys)
	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			k.release(held[i])
		}
	}

	for _, key := range keys {
		if err := k.acquire(ctx, key); err != nil {
			release()
			return nil, err
		}
		held = append(held, key)
	}
	return release, nil
}

func (k *keyedLocks) acquire(ctx context.Context, key string) error {
	k.mu.Lock()
	ticket := make(chan struct{})
	queue := append(k.queues[key], ticket)
	k.queues[key] = queue
	if len(queue) == 1 {
		close(ticket)
	}
	k.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	queue = k.queues[key]
	for i, t := range queue {
		if t != ticket {
			continue
		}
		if i == 0 {
			// Granted while giving up: pass the lock on.
			k.advance(key, queue)
		} else {
			k.queues[key] = append(queue[:i], queue[i+1:]...)
		}
		break
	}
	return ctx.Err()
}

func (k *keyedLocks) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.advance(key, k.queues[key])
}

// advance drops the head of queue and wakes the next waiter. mu must be held.
func (k *keyedLocks) advance(key string, queue []chan struct{}) {
	if len(queue) <= 1 {
		delete(k.queues, key)
		return
	}
	queue = queue[1:]
	k.queues[key] = queue
	close(queue[0])
}

// waiting reports how many callers hold or wait for key.
func (k *keyedLocks) waiting(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.queues[key])
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
