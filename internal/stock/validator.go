package stock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const DefaultDebounce = 500 * time.Millisecond

type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeOutOfStock   Outcome = "out-of-stock"
	OutcomeInsufficient Outcome = "insufficient"
)

var (
	ErrOutOfStock   = errors.New("out of stock")
	ErrInsufficient = errors.New("insufficient stock")
)

// ValidationError is a recoverable stock warning. The operator may override it.
type ValidationError struct {
	ItemID    int
	Requested int
	Available int
	Outcome   Outcome
}

func (e *ValidationError) Error() string {
	if e.Outcome == OutcomeOutOfStock {
		return fmt.Sprintf("item %d: %v", e.ItemID, ErrOutOfStock)
	}
	return fmt.Sprintf("item %d: %v (requested %d, available %d)", e.ItemID, ErrInsufficient, e.Requested, e.Available)
}

func (e *ValidationError) Unwrap() error {
	if e.Outcome == OutcomeOutOfStock {
		return ErrOutOfStock
	}
	return ErrInsufficient
}

// Evaluate checks a requested quantity against a stock snapshot. A missing
// snapshot always passes.
func Evaluate(requested int, snapshot *int) Outcome {
	if snapshot == nil {
		return OutcomeOK
	}
	if *snapshot <= 0 {
		return OutcomeOutOfStock
	}
	if requested > *snapshot {
		return OutcomeInsufficient
	}
	return OutcomeOK
}

type Request struct {
	ItemID   int
	Quantity int
	Snapshot *int
}

type Resolution struct {
	Request
	Outcome    Outcome
	Generation uint64
}

func (r Resolution) Err() error {
	if r.Outcome == OutcomeOK {
		return nil
	}
	available := 0
	if r.Snapshot != nil {
		available = *r.Snapshot
	}
	return &ValidationError{ItemID: r.ItemID, Requested: r.Quantity, Available: available, Outcome: r.Outcome}
}

type pendingCheck struct {
	generation uint64
	timer      Timer
}

// Validator debounces stock checks per line item. Each Schedule call bumps a
// global generation; only the newest generation for an item may resolve.
type Validator struct {
	mu         sync.Mutex
	delay      time.Duration
	scheduler  Scheduler
	onResolve  func(Resolution)
	generation uint64
	pending    map[int]*pendingCheck
}

func NewValidator(delay time.Duration, scheduler Scheduler, onResolve func(Resolution)) *Validator {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if scheduler == nil {
		scheduler = RealScheduler{}
	}
	if onResolve == nil {
		onResolve = func(Resolution) {}
	}
	return &Validator{
		delay:     delay,
		scheduler: scheduler,
		onResolve: onResolve,
		pending:   make(map[int]*pendingCheck),
	}
}

// Schedule starts or restarts the debounce window for req.ItemID and returns
// the generation assigned to it.
func (v *Validator) Schedule(req Request) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if prev, ok := v.pending[req.ItemID]; ok {
		prev.timer.Stop()
	}

	v.generation++
	gen := v.generation
	if req.Snapshot != nil {
		snap := *req.Snapshot
		req.Snapshot = &snap
	}

	check := &pendingCheck{generation: gen}
	v.pending[req.ItemID] = check
	check.timer = v.scheduler.AfterFunc(v.delay, func() {
		v.fire(req, gen)
	})
	return gen
}

func (v *Validator) fire(req Request, gen uint64) {
	v.mu.Lock()
	check, ok := v.pending[req.ItemID]
	current := ok && check.generation == gen
	v.mu.Unlock()
	if !current {
		return
	}

	v.onResolve(Resolution{
		Request:    req,
		Outcome:    Evaluate(req.Quantity, req.Snapshot),
		Generation: gen,
	})
}

// Claim marks a resolution as consumed. It returns false when a newer request
// for the same item was scheduled after the resolution fired, in which case
// the resolution must be ignored. Callers that serialise Schedule under their
// own lock should call Claim under that same lock.
func (v *Validator) Claim(res Resolution) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	check, ok := v.pending[res.ItemID]
	if !ok || check.generation != res.Generation {
		return false
	}
	delete(v.pending, res.ItemID)
	return true
}

func (v *Validator) Cancel(itemID int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if check, ok := v.pending[itemID]; ok {
		check.timer.Stop()
		delete(v.pending, itemID)
	}
}

func (v *Validator) CancelAll() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for id, check := range v.pending {
		check.timer.Stop()
		delete(v.pending, id)
	}
}

func (v *Validator) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}
