package database

import (
	"context"
	"log"
	"sync"
	"time"

	"chatterbox/pkg/interfaces"
	"chatterbox/pkg/types"
)

// WriteBehind wraps a DatabaseManager so mutations return immediately and
// are applied in submission order by one background goroutine. Reads pass
// straight through. Failed writes are logged; the in-memory state that
// produced them stays authoritative.
type WriteBehind struct {
	inner        interfaces.DatabaseManager
	queue        chan pendingWrite
	enqueueLimit time.Duration
	done         chan struct{}
	closeOnce    sync.Once
	mu           sync.RWMutex
	closed       bool
}

type pendingWrite struct {
	name string
	fn   func(ctx context.Context) error
}

// NewWriteBehind starts the drain goroutine. enqueueLimit bounds how long a
// caller waits when the queue is full before the write is dropped.
func NewWriteBehind(inner interfaces.DatabaseManager, size int, enqueueLimit time.Duration) *WriteBehind {
	w := &WriteBehind{
		inner:        inner,
		queue:        make(chan pendingWrite, size),
		enqueueLimit: enqueueLimit,
		done:         make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *WriteBehind) drain() {
	defer close(w.done)
	for op := range w.queue {
		if err := op.fn(context.Background()); err != nil {
			log.Printf("Persistence failed for %s: %v", op.name, err)
		}
	}
}

func (w *WriteBehind) submit(name string, fn func(ctx context.Context) error) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		log.Printf("Persistence skipped for %s: store closed", name)
		return interfaces.ErrStoreClosed
	}

	timer := time.NewTimer(w.enqueueLimit)
	defer timer.Stop()

	select {
	case w.queue <- pendingWrite{name: name, fn: fn}:
		return nil
	case <-timer.C:
		log.Printf("Persistence queue full, dropping %s", name)
		return nil
	}
}

func (w *WriteBehind) SaveUser(_ context.Context, user *types.User) error {
	u := *user
	return w.submit("user "+u.Username, func(ctx context.Context) error {
		return w.inner.SaveUser(ctx, &u)
	})
}

func (w *WriteBehind) SaveRoom(_ context.Context, room *types.Room) error {
	r := room.Clone()
	return w.submit("room "+r.Name, func(ctx context.Context) error {
		return w.inner.SaveRoom(ctx, &r)
	})
}

func (w *WriteBehind) DeleteRoom(_ context.Context, name string) error {
	return w.submit("room deletion "+name, func(ctx context.Context) error {
		return w.inner.DeleteRoom(ctx, name)
	})
}

func (w *WriteBehind) SaveMessage(_ context.Context, conversationID string, env *types.Envelope) error {
	e := *env
	return w.submit("message in "+conversationID, func(ctx context.Context) error {
		return w.inner.SaveMessage(ctx, conversationID, &e)
	})
}

func (w *WriteBehind) LoadUsers(ctx context.Context) ([]*types.User, error) {
	return w.inner.LoadUsers(ctx)
}

func (w *WriteBehind) LoadRooms(ctx context.Context) ([]*types.Room, error) {
	return w.inner.LoadRooms(ctx)
}

func (w *WriteBehind) LoadHistory(ctx context.Context) (map[string][]types.Envelope, error) {
	return w.inner.LoadHistory(ctx)
}

func (w *WriteBehind) HealthCheck(ctx context.Context) error {
	return w.inner.HealthCheck(ctx)
}

// Flush blocks until every write queued before the call has been applied.
func (w *WriteBehind) Flush(ctx context.Context) error {
	applied := make(chan struct{})
	err := w.submit("flush", func(context.Context) error {
		close(applied)
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-applied:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes, then closes the wrapped manager.
func (w *WriteBehind) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()

		<-w.done
		err = w.inner.Close()
	})
	return err
}
