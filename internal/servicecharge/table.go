package servicecharge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
)

// Table maps a transaction type to its fixed service fee. Unknown types
// carry no fee.
type Table struct {
	mu      sync.RWMutex
	charges map[domain.TransactionType]int64
}

func New(charges map[domain.TransactionType]int64) *Table {
	t := &Table{charges: make(map[domain.TransactionType]int64, len(charges))}
	for k, v := range charges {
		t.charges[k] = v
	}
	return t
}

// Parse reads "type=amount" pairs separated by commas, e.g.
// "prescription=2000,compounded=3000,otc=0".
func Parse(raw string) (map[domain.TransactionType]int64, error) {
	out := make(map[domain.TransactionType]int64)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("service charge %q: missing '='", part)
		}
		t := domain.TransactionType(strings.ToLower(strings.TrimSpace(key)))
		if !t.Valid() {
			return nil, fmt.Errorf("service charge %q: unknown transaction type", part)
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil || amount < 0 {
			return nil, fmt.Errorf("service charge %q: amount must be a non-negative integer", part)
		}
		out[t] = amount
	}
	return out, nil
}

func (t *Table) ServiceCharge(tt domain.TransactionType) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.charges[tt]
}

func (t *Table) Set(tt domain.TransactionType, amount int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.charges[tt] = amount
}

func (t *Table) Snapshot() map[domain.TransactionType]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[domain.TransactionType]int64, len(t.charges))
	for k, v := range t.charges {
		out[k] = v
	}
	return out
}

// Load overlays values from the parameter source. Rows for unknown types
// are ignored. It returns the number of entries applied.
func (t *Table) Load(ctx context.Context, src store.ParameterSource) (int, error) {
	charges, err := src.ListServiceCharges(ctx)
	if err != nil {
		return 0, fmt.Errorf("load service charges: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	applied := 0
	for k, v := range charges {
		if !k.Valid() || v < 0 {
			continue
		}
		t.charges[k] = v
		applied++
	}
	return applied, nil
}
