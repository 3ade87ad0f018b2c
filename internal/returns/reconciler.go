package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/ledger"
)

var (
	ErrStaleLookup     = errors.New("superseded by a newer invoice lookup")
	ErrInvoiceRequired = errors.New("invoice number is required")
	ErrReasonRequired  = errors.New("return reason is required")
	ErrEmptyInvoice    = errors.New("transaction has no items")
)

type InvoiceLookup interface {
	Lookup(ctx context.Context, invoiceNumber string) (domain.InvoiceLookup, error)
}

type TransactionProcessor interface {
	Submit(ctx context.Context, payload any) (domain.SubmitResult, error)
}

// Target receives the LoadReturn command. A *ledger.Ledger satisfies it, as
// does a session that also persists the result.
type Target interface {
	Apply(cmd ledger.Command) (ledger.Result, error)
}

type Reconciler struct {
	lookup    InvoiceLookup
	processor TransactionProcessor
	now       func() time.Time

	mu         sync.Mutex
	generation uint64
	metadata   *domain.ReturnMetadata
}

func New(lookup InvoiceLookup, processor TransactionProcessor) *Reconciler {
	return &Reconciler{
		lookup:    lookup,
		processor: processor,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// LoadForItemBasedReturn replaces the target's items with those of the given
// invoice. Lookup failures leave the target untouched. When another lookup
// starts before this one returns, this one reports ErrStaleLookup and
// applies nothing.
func (r *Reconciler) LoadForItemBasedReturn(ctx context.Context, invoiceNumber string, target Target) (domain.ReturnMetadata, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	if invoiceNumber == "" {
		return domain.ReturnMetadata{}, ErrInvoiceRequired
	}

	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	found, err := r.lookup.Lookup(ctx, invoiceNumber)
	if err != nil {
		return domain.ReturnMetadata{}, err
	}
	if len(found.Items) == 0 {
		return domain.ReturnMetadata{}, fmt.Errorf("%w: %s", ErrEmptyInvoice, invoiceNumber)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation {
		return domain.ReturnMetadata{}, fmt.Errorf("%w: %s", ErrStaleLookup, invoiceNumber)
	}
	if _, err := target.Apply(ledger.LoadReturn{InvoiceNumber: invoiceNumber, Items: found.Items}); err != nil {
		return domain.ReturnMetadata{}, err
	}

	meta := domain.ReturnMetadata{
		InvoiceNumber: invoiceNumber,
		CustomerName:  found.CustomerName,
		DoctorName:    found.DoctorName,
		LoadedAt:      r.now(),
	}
	r.metadata = &meta
	return meta, nil
}

// LoadForFullReturn submits the whole invoice for reversal without staging
// it in any ledger.
func (r *Reconciler) LoadForFullReturn(ctx context.Context, invoiceNumber string, reason string) (domain.SubmitResult, error) {
	invoiceNumber = strings.TrimSpace(invoiceNumber)
	reason = strings.TrimSpace(reason)
	if invoiceNumber == "" {
		return domain.SubmitResult{}, ErrInvoiceRequired
	}
	if reason == "" {
		return domain.SubmitResult{}, ErrReasonRequired
	}

	found, err := r.lookup.Lookup(ctx, invoiceNumber)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	if len(found.Items) == 0 {
		return domain.SubmitResult{}, fmt.Errorf("%w: %s", ErrEmptyInvoice, invoiceNumber)
	}

	return r.processor.Submit(ctx, domain.FullReturnSubmission{
		Type:                    domain.FullReturnType,
		OriginalTransactionData: found,
		OriginalProducts:        found.Items,
		ReturnReason:            reason,
	})
}

func (r *Reconciler) Metadata() *domain.ReturnMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metadata == nil {
		return nil
	}
	meta := *r.metadata
	return &meta
}

// Reset drops the metadata and invalidates any lookup still in flight.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	r.metadata = nil
}
