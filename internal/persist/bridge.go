package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/metrics"
	"apotekpos/backend/internal/store"
)

const defaultWriteTimeout = 5 * time.Second

// Key returns the storage key for a session. Sale and return flows use
// distinct keys so their state never mixes.
func Key(flow domain.Flow, sessionID string) string {
	return fmt.Sprintf("pos:ledger:%s:%s", flow, sessionID)
}

// State is what a session starts from.
type State struct {
	Items  []domain.LineItem
	NextID int
}

type op struct {
	delete  bool
	payload []byte
}

// Bridge mirrors one ledger into a SnapshotStore. Save and Delete return
// immediately; a single worker applies them in call order. Only the latest
// queued operation is kept, so an older write can never land after a newer
// one.
type Bridge struct {
	storage store.SnapshotStore
	key     string
	timeout time.Duration

	mu      sync.Mutex
	next    *op
	busy    bool
	closed  bool
	waiters []chan struct{}

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewBridge(storage store.SnapshotStore, key string) *Bridge {
	b := &Bridge{
		storage: storage,
		key:     key,
		timeout: defaultWriteTimeout,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bridge) Key() string {
	return b.key
}

// Load reads the stored ledger. Absence, storage failures and malformed
// documents all yield an empty state.
func (b *Bridge) Load(ctx context.Context) State {
	empty := State{NextID: 1}

	payload, err := b.storage.GetSnapshot(ctx, b.key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[persist] WARN: load %s failed, starting empty: %v", b.key, err)
		}
		return empty
	}
	items, nextID, err := Decode(payload)
	if err != nil {
		log.Printf("[persist] WARN: discarding %s: %v", b.key, err)
		return empty
	}
	return State{Items: items, NextID: nextID}
}

func (b *Bridge) Save(items []domain.LineItem, nextID int) {
	payload, err := Encode(items, nextID)
	if err != nil {
		log.Printf("[persist] WARN: encode %s: %v", b.key, err)
		return
	}
	b.enqueue(&op{payload: payload})
}

func (b *Bridge) Delete() {
	b.enqueue(&op{delete: true})
}

func (b *Bridge) enqueue(o *op) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		log.Printf("[persist] WARN: %s closed, dropping write", b.key)
		return
	}
	b.next = o
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every queued operation has been applied or ctx ends.
func (b *Bridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	if b.next == nil && !b.busy {
		b.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	b.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close applies any queued operation and stops the worker.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		select {
		case <-b.wake:
			b.drain()
		case <-b.stop:
			b.drain()
			return
		}
	}
}

func (b *Bridge) drain() {
	for {
		b.mu.Lock()
		o := b.next
		if o == nil {
			b.busy = false
			waiters := b.waiters
			b.waiters = nil
			b.mu.Unlock()
			for _, ch := range waiters {
				close(ch)
			}
			return
		}
		b.next = nil
		b.busy = true
		b.mu.Unlock()

		b.apply(o)
	}
}

func (b *Bridge) apply(o *op) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	var (
		err   error
		label = "put"
	)
	if o.delete {
		label = "delete"
		err = b.storage.DeleteSnapshot(ctx, b.key)
	} else {
		err = b.storage.PutSnapshot(ctx, b.key, o.payload)
	}
	metrics.SnapshotWrites.WithLabelValues(label, metrics.Result(err)).Inc()
	if err != nil {
		log.Printf("[persist] WARN: %s %s failed: %v", label, b.key, err)
	}
}
