package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/ledger"
	"apotekpos/backend/internal/metrics"
	"apotekpos/backend/internal/persist"
	"apotekpos/backend/internal/returns"
	"apotekpos/backend/internal/stock"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

var (
	ErrUnknownAction     = errors.New("pending action not found")
	ErrNothingToSubmit   = errors.New("no active items to submit")
	ErrNoReturnLoaded    = errors.New("no return transaction loaded")
	ErrWrongFlow         = errors.New("operation not allowed in this flow")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrSubmitting        = errors.New("session is submitting a transaction")
	ErrInvalidSessionID  = errors.New("invalid session id")
	ErrValidationPending = errors.New("stock validation not settled")
)

// Deps are the collaborators shared by every session of a process.
type Deps struct {
	Charges   ledger.ServiceCharges
	Storage   store.SnapshotStore
	Lookup    returns.InvoiceLookup
	Processor returns.TransactionProcessor
	Debounce  time.Duration
	Scheduler stock.Scheduler
}

// Session is one operator checkout. Every ledger mutation, stock resolution
// and pending-action change is serialised by mu.
//
// Lock order: reconciler, then session, then validator. The session never
// calls into the reconciler while holding mu.
type Session struct {
	id         string
	flow       domain.Flow
	processor  returns.TransactionProcessor
	reconciler *returns.Reconciler
	validator  *stock.Validator
	bridge     *persist.Bridge
	now        func() time.Time

	mu         sync.Mutex
	ledger     *ledger.Ledger
	committed  map[int]int
	pending    []domain.PendingAction
	submitting bool
}

// Open restores the session from storage, or starts it empty.
func Open(ctx context.Context, flow domain.Flow, id string, deps Deps) *Session {
	s := &Session{
		id:         id,
		flow:       flow,
		processor:  deps.Processor,
		reconciler: returns.New(deps.Lookup, deps.Processor),
		bridge:     persist.NewBridge(deps.Storage, persist.Key(flow, id)),
		now:        func() time.Time { return time.Now().UTC() },
		committed:  make(map[int]int),
	}
	s.validator = stock.NewValidator(deps.Debounce, deps.Scheduler, s.resolve)

	state := s.bridge.Load(ctx)
	s.ledger = ledger.FromSnapshot(state.Items, state.NextID, deps.Charges)
	for _, item := range state.Items {
		s.committed[item.ID] = item.Quantity
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Flow() domain.Flow {
	return s.flow
}

// Dispatch applies one operator command.
func (s *Session) Dispatch(cmd ledger.Command) (ledger.Result, error) {
	if _, ok := cmd.(ledger.LoadReturn); ok {
		return ledger.Result{}, fmt.Errorf("%w: load-return goes through the return workflow", ErrInvalidCommand)
	}

	res, err := s.apply(cmd)
	if err != nil {
		return res, err
	}
	if _, ok := cmd.(ledger.ClearAll); ok {
		s.reconciler.Reset()
	}
	return res, nil
}

func (s *Session) apply(cmd ledger.Command) (ledger.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.submitting {
		return ledger.Result{}, ErrSubmitting
	}

	res, err := s.ledger.Apply(cmd)
	if err != nil {
		return res, err
	}
	metrics.CommandsApplied.WithLabelValues(ledger.Name(cmd), metrics.Bool(res.Changed)).Inc()
	if !res.Changed {
		return res, nil
	}

	switch {
	case res.Cleared:
		s.validator.CancelAll()
		s.pending = nil
		s.committed = make(map[int]int)
		if _, ok := cmd.(ledger.LoadReturn); ok {
			for _, item := range s.ledger.Items() {
				s.committed[item.ID] = item.Quantity
			}
		}
	case res.Removed:
		s.validator.Cancel(res.ItemID)
		s.dropPending(res.ItemID)
		delete(s.committed, res.ItemID)
	}
	if res.Validation != nil {
		s.dropPending(res.Validation.ItemID)
		s.validator.Schedule(*res.Validation)
	}

	if _, ok := cmd.(ledger.ClearAll); ok {
		s.bridge.Delete()
	} else {
		s.persist()
	}
	return res, nil
}

// resolve runs when a debounced stock check fires.
func (s *Session) resolve(res stock.Resolution) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validator.Claim(res) {
		return
	}
	metrics.StockValidations.WithLabelValues(string(res.Outcome)).Inc()

	item, ok := s.ledger.Item(res.ItemID)
	if !ok {
		return
	}
	if res.Outcome == stock.OutcomeOK {
		s.committed[item.ID] = res.Quantity
		return
	}

	rollback := s.committed[item.ID]
	if item.Quantity != rollback {
		if _, err := s.ledger.Apply(ledger.UpdateQuantity{ItemID: item.ID, Quantity: rollback}); err != nil {
			log.Printf("[session] WARN: rollback item %d in %s: %v", item.ID, s.id, err)
			return
		}
		s.persist()
	}

	action := domain.PendingAction{
		ID:        xid.New("pa"),
		Type:      domain.PendingUpdateQuantity,
		Payload:   domain.PendingPayload{ItemID: item.ID, Quantity: res.Quantity},
		Outcome:   string(res.Outcome),
		CreatedAt: s.now(),
	}
	if res.Snapshot != nil {
		available := *res.Snapshot
		action.Available = &available
	}
	s.dropPending(item.ID)
	s.pending = append(s.pending, action)
	log.Printf("[session] stock warning %s: %v", s.id, res.Err())
}

// Confirm overrides a stock warning and commits the requested quantity
// without validating it again.
func (s *Session) Confirm(actionID string) (ledger.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.takePending(actionID)
	if !ok {
		return ledger.Result{}, ErrUnknownAction
	}
	metrics.PendingActions.WithLabelValues("confirmed").Inc()

	res, err := s.ledger.Apply(ledger.UpdateQuantity{ItemID: action.Payload.ItemID, Quantity: action.Payload.Quantity})
	if err != nil {
		return res, err
	}
	res.Validation = nil
	if !res.Changed {
		return res, nil
	}
	s.committed[action.Payload.ItemID] = action.Payload.Quantity
	s.persist()
	return res, nil
}

func (s *Session) Dismiss(actionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.takePending(actionID); !ok {
		return ErrUnknownAction
	}
	metrics.PendingActions.WithLabelValues("dismissed").Inc()
	return nil
}

func (s *Session) PendingActions() []domain.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCopy()
}

func (s *Session) State() domain.SessionState {
	meta := s.reconciler.Metadata()

	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SessionState{
		SessionID:      s.id,
		Flow:           s.flow,
		Items:          s.ledger.Items(),
		NextID:         s.ledger.NextID(),
		Totals:         s.ledger.Totals(),
		PendingActions: s.pendingCopy(),
		Return:         meta,
	}
}

// LoadItemBasedReturn stages the items of a prior invoice in this ledger.
func (s *Session) LoadItemBasedReturn(ctx context.Context, invoiceNumber string) (domain.ReturnMetadata, error) {
	if s.flow != domain.FlowReturn {
		return domain.ReturnMetadata{}, ErrWrongFlow
	}
	return s.reconciler.LoadForItemBasedReturn(ctx, invoiceNumber, returnTarget{s})
}

// FullReturn reverses a prior invoice without touching this ledger.
func (s *Session) FullReturn(ctx context.Context, invoiceNumber string, reason string) (domain.SubmitResult, error) {
	if s.flow != domain.FlowReturn {
		return domain.SubmitResult{}, ErrWrongFlow
	}
	return s.reconciler.LoadForFullReturn(ctx, invoiceNumber, reason)
}

// Complete submits the active items and, on success, empties the ledger and
// its stored copy. On failure the ledger is left as it was. It refuses with
// ErrValidationPending while a stock check is still debouncing or a stock
// warning awaits confirmation.
func (s *Session) Complete(ctx context.Context) (domain.SubmitResult, domain.Totals, error) {
	meta := s.reconciler.Metadata()

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return domain.SubmitResult{}, domain.Totals{}, ErrSubmitting
	}
	submission, err := s.buildSubmission(meta)
	if err == nil {
		err = s.checkSettled()
	}
	if err != nil {
		s.mu.Unlock()
		return domain.SubmitResult{}, domain.Totals{}, err
	}
	s.submitting = true
	s.mu.Unlock()

	result, err := s.processor.Submit(ctx, submission)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		return result, submission.Totals, err
	}
	_, _ = s.ledger.Apply(ledger.ClearAll{})
	s.validator.CancelAll()
	s.pending = nil
	s.committed = make(map[int]int)
	s.bridge.Delete()
	s.mu.Unlock()

	s.reconciler.Reset()
	log.Printf("[session] completed %s %s: %d items, total %d", s.flow, s.id, submission.Totals.ItemCount, submission.Totals.Total)
	return result, submission.Totals, nil
}

func (s *Session) buildSubmission(meta *domain.ReturnMetadata) (domain.TransactionSubmission, error) {
	items := s.ledger.ActiveItems()
	if len(items) == 0 {
		return domain.TransactionSubmission{}, ErrNothingToSubmit
	}
	submission := domain.TransactionSubmission{
		Type:           domain.SubmissionSale,
		IdempotencyKey: xid.New("txn"),
		Items:          items,
		Totals:         s.ledger.Totals(),
	}
	if s.flow == domain.FlowReturn {
		submission.Type = domain.SubmissionItemReturn
		submission.SourceInvoice = sourceInvoice(meta, s.ledger.Items())
		if submission.SourceInvoice == "" {
			return domain.TransactionSubmission{}, ErrNoReturnLoaded
		}
	}
	return submission, nil
}

// checkSettled must be called with s.mu held.
func (s *Session) checkSettled() error {
	if n := s.validator.Pending(); n > 0 {
		return fmt.Errorf("%w: %d stock checks in progress", ErrValidationPending, n)
	}
	if n := len(s.pending); n > 0 {
		return fmt.Errorf("%w: %d stock warnings await confirmation", ErrValidationPending, n)
	}
	return nil
}

// sourceInvoice prefers the loaded metadata and falls back to the items,
// which keep their origin across restarts.
func sourceInvoice(meta *domain.ReturnMetadata, items []domain.LineItem) string {
	if meta != nil && meta.InvoiceNumber != "" {
		return meta.InvoiceNumber
	}
	for _, item := range items {
		if item.Return != nil && item.Return.SourceInvoice != "" {
			return item.Return.SourceInvoice
		}
	}
	return ""
}

func (s *Session) Flush(ctx context.Context) error {
	return s.bridge.Flush(ctx)
}

// Close stops pending stock checks and writes out the last snapshot.
func (s *Session) Close() {
	s.validator.CancelAll()
	s.bridge.Close()
}

func (s *Session) persist() {
	s.bridge.Save(s.ledger.Items(), s.ledger.NextID())
}

func (s *Session) dropPending(itemID int) {
	kept := s.pending[:0]
	for _, action := range s.pending {
		if action.Payload.ItemID != itemID {
			kept = append(kept, action)
		}
	}
	s.pending = kept
}

func (s *Session) takePending(actionID string) (domain.PendingAction, bool) {
	for i, action := range s.pending {
		if action.ID == actionID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return action, true
		}
	}
	return domain.PendingAction{}, false
}

func (s *Session) pendingCopy() []domain.PendingAction {
	out := make([]domain.PendingAction, 0, len(s.pending))
	for _, action := range s.pending {
		if action.Available != nil {
			v := *action.Available
			action.Available = &v
		}
		out = append(out, action)
	}
	return out
}

// returnTarget lets the reconciler apply LoadReturn through the session so
// the result is persisted and stale validations are cancelled.
type returnTarget struct {
	s *Session
}

func (t returnTarget) Apply(cmd ledger.Command) (ledger.Result, error) {
	return t.s.apply(cmd)
}
