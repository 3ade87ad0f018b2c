package ledger

import (
	"errors"
	"fmt"
	"strings"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/pricing"
	"apotekpos/backend/internal/stock"
)

var ErrUnknownCommand = errors.New("unknown ledger command")

type ServiceCharges interface {
	ServiceCharge(t domain.TransactionType) int64
}

type noCharges struct{}

func (noCharges) ServiceCharge(domain.TransactionType) int64 { return 0 }

// Result describes what a command did. Changed is false for no-ops such as
// an unknown item id or restoring an item that is not deleted.
type Result struct {
	Changed    bool
	ItemID     int
	Removed    bool
	Cleared    bool
	Validation *stock.Request
}

// Ledger is the ordered working set of one checkout session. It is not safe
// for concurrent use; the owning session serialises access.
type Ledger struct {
	items   []domain.LineItem
	nextID  int
	charges ServiceCharges
}

func New(charges ServiceCharges) *Ledger {
	if charges == nil {
		charges = noCharges{}
	}
	return &Ledger{nextID: 1, charges: charges}
}

// FromSnapshot rebuilds a ledger from persisted state. nextID is raised above
// every stored id so ids are never reused.
func FromSnapshot(items []domain.LineItem, nextID int, charges ServiceCharges) *Ledger {
	l := New(charges)
	l.items = make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		l.items = append(l.items, item.Clone())
		if item.ID >= nextID {
			nextID = item.ID + 1
		}
	}
	if nextID < 1 {
		nextID = 1
	}
	l.nextID = nextID
	return l
}

func (l *Ledger) Apply(cmd Command) (Result, error) {
	switch c := cmd.(type) {
	case AddItem:
		return l.addItem(c.Product), nil
	case UpdateQuantity:
		return l.updateQuantity(c.ItemID, c.Quantity), nil
	case UpdateDiscount:
		return l.mutate(c.ItemID, func(item *domain.LineItem) bool {
			item.DiscountPercent = clampPercent(c.Percent)
			return true
		}), nil
	case UpdateMisc:
		return l.mutate(c.ItemID, func(item *domain.LineItem) bool {
			item.MiscAmount += c.Delta
			return true
		}), nil
	case UpdateType:
		return l.mutate(c.ItemID, func(item *domain.LineItem) bool {
			if !c.Type.Valid() {
				return false
			}
			item.Type = c.Type
			item.ServiceCharge = l.charges.ServiceCharge(c.Type)
			return true
		}), nil
	case ToggleUpsell:
		return l.mutate(c.ItemID, func(item *domain.LineItem) bool {
			item.Upsell = !item.Upsell
			return true
		}), nil
	case RemoveItem:
		return l.removeItem(c.ItemID), nil
	case RestoreItem:
		return l.mutate(c.ItemID, func(item *domain.LineItem) bool {
			if !item.IsDeleted() {
				return false
			}
			item.Return.Deleted = false
			return true
		}), nil
	case ClearAll:
		l.items = nil
		l.nextID = 1
		return Result{Changed: true, Cleared: true}, nil
	case LoadReturn:
		return l.loadReturn(c), nil
	}
	return Result{}, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
}

func (l *Ledger) addItem(p domain.ProductSnapshot) Result {
	code := strings.TrimSpace(p.ProductCode)
	if code == "" {
		return Result{}
	}

	for i := range l.items {
		item := &l.items[i]
		if item.ProductCode != code || !item.IsActive() {
			continue
		}
		item.Quantity++
		*item = pricing.Recompute(*item)
		return Result{Changed: true, ItemID: item.ID, Validation: validationFor(*item)}
	}

	item := domain.LineItem{
		ID:             l.nextID,
		ProductCode:    code,
		Name:           strings.TrimSpace(p.Name),
		Type:           p.Type,
		UnitPrice:      p.UnitPrice,
		Quantity:       1,
		ServiceCharge:  l.charges.ServiceCharge(p.Type),
		PromoAmount:    p.PromoAmount,
		PromoPercent:   p.PromoPercent,
		NoVoucherCount: p.NoVoucherCount,
	}
	if p.Stock != nil {
		snap := *p.Stock
		item.StockSnapshot = &snap
	}
	item = pricing.Recompute(item)
	l.nextID++
	l.items = append(l.items, item)

	return Result{Changed: true, ItemID: item.ID, Validation: validationFor(item)}
}

func (l *Ledger) updateQuantity(id int, quantity int) Result {
	if quantity < 0 {
		quantity = 0
	}
	res := l.mutate(id, func(item *domain.LineItem) bool {
		item.Quantity = quantity
		item.ServiceCharge = l.charges.ServiceCharge(item.Type)
		return true
	})
	if res.Changed {
		item := l.items[l.indexOf(id)]
		res.Validation = validationFor(item)
	}
	return res
}

func (l *Ledger) removeItem(id int) Result {
	idx := l.indexOf(id)
	if idx < 0 {
		return Result{}
	}
	item := &l.items[idx]
	if item.IsOriginalReturnItem() {
		if item.Return.Deleted {
			return Result{ItemID: id}
		}
		item.Return.Deleted = true
		return Result{Changed: true, ItemID: id}
	}
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	return Result{Changed: true, ItemID: id, Removed: true}
}

func (l *Ledger) loadReturn(c LoadReturn) Result {
	items := make([]domain.LineItem, 0, len(c.Items))
	for i, src := range c.Items {
		qty := src.Quantity
		if qty < 0 {
			qty = 0
		}
		item := domain.LineItem{
			ID:              i + 1,
			ProductCode:     strings.TrimSpace(src.ProductCode),
			Name:            strings.TrimSpace(src.Name),
			Type:            src.Type,
			UnitPrice:       src.UnitPrice,
			Quantity:        qty,
			DiscountPercent: clampPercent(src.DiscountPercent),
			ServiceCharge:   src.ServiceCharge,
			MiscAmount:      src.MiscAmount,
			PromoAmount:     src.PromoAmount,
			PromoPercent:    src.PromoPercent,
			Upsell:          src.Upsell,
			NoVoucherCount:  src.NoVoucherCount,
			Return:          &domain.ReturnOrigin{SourceInvoice: c.InvoiceNumber},
		}
		if src.Stock != nil {
			snap := *src.Stock
			item.StockSnapshot = &snap
		}
		items = append(items, pricing.Recompute(item))
	}
	l.items = items
	l.nextID = len(items) + 1
	return Result{Changed: true, Cleared: true}
}

// mutate applies fn to the item with the given id and recomputes its money
// fields when fn reports a change.
func (l *Ledger) mutate(id int, fn func(item *domain.LineItem) bool) Result {
	idx := l.indexOf(id)
	if idx < 0 {
		return Result{}
	}
	item := &l.items[idx]
	if !fn(item) {
		return Result{ItemID: id}
	}
	*item = pricing.Recompute(*item)
	return Result{Changed: true, ItemID: id}
}

func (l *Ledger) indexOf(id int) int {
	for i := range l.items {
		if l.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) Item(id int) (domain.LineItem, bool) {
	idx := l.indexOf(id)
	if idx < 0 {
		return domain.LineItem{}, false
	}
	return l.items[idx].Clone(), true
}

func (l *Ledger) Items() []domain.LineItem {
	out := make([]domain.LineItem, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, item.Clone())
	}
	return out
}

// ActiveItems returns the items eligible for aggregation and payment.
func (l *Ledger) ActiveItems() []domain.LineItem {
	out := make([]domain.LineItem, 0, len(l.items))
	for _, item := range l.items {
		if item.IsActive() {
			out = append(out, item.Clone())
		}
	}
	return out
}

func (l *Ledger) Len() int {
	return len(l.items)
}

func (l *Ledger) NextID() int {
	return l.nextID
}

func (l *Ledger) Totals() domain.Totals {
	return pricing.Aggregate(l.items)
}

func validationFor(item domain.LineItem) *stock.Request {
	req := &stock.Request{ItemID: item.ID, Quantity: item.Quantity}
	if item.StockSnapshot != nil {
		snap := *item.StockSnapshot
		req.Snapshot = &snap
	}
	return req
}

func clampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
