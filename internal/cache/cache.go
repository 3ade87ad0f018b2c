package cache

import (
	"context"
	"errors"
	"log"

	"apotekpos/backend/internal/store"
)

// Tiered reads from the fast store first and falls back to the durable one.
// Writes go to both; the durable store is authoritative. A key whose fast
// write fails is evicted from the fast tier.
type Tiered struct {
	fast    store.SnapshotStore
	durable store.SnapshotStore
}

func NewTiered(fast store.SnapshotStore, durable store.SnapshotStore) *Tiered {
	return &Tiered{fast: fast, durable: durable}
}

func (t *Tiered) PutSnapshot(ctx context.Context, key string, payload []byte) error {
	if err := t.durable.PutSnapshot(ctx, key, payload); err != nil {
		return err
	}
	if err := t.fast.PutSnapshot(ctx, key, payload); err != nil {
		log.Printf("[cache] WARN: fast tier put failed for %s: %v", key, err)
		// An older copy left in the fast tier would shadow the durable write.
		if err := t.fast.DeleteSnapshot(ctx, key); err != nil {
			log.Printf("[cache] WARN: fast tier evict failed for %s: %v", key, err)
		}
	}
	return nil
}

func (t *Tiered) GetSnapshot(ctx context.Context, key string) ([]byte, error) {
	payload, err := t.fast.GetSnapshot(ctx, key)
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		log.Printf("[cache] WARN: fast tier get failed for %s: %v", key, err)
	}

	payload, err = t.durable.GetSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := t.fast.PutSnapshot(ctx, key, payload); err != nil {
		log.Printf("[cache] WARN: fast tier backfill failed for %s: %v", key, err)
	}
	return payload, nil
}

func (t *Tiered) DeleteSnapshot(ctx context.Context, key string) error {
	if err := t.fast.DeleteSnapshot(ctx, key); err != nil {
		log.Printf("[cache] WARN: fast tier delete failed for %s: %v", key, err)
	}
	return t.durable.DeleteSnapshot(ctx, key)
}
