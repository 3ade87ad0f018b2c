package ledger

import "apotekpos/backend/internal/domain"

// Command is the closed set of ledger mutations. Only types in this package
// implement it.
type Command interface {
	command()
}

type AddItem struct {
	Product domain.ProductSnapshot
}

type UpdateQuantity struct {
	ItemID   int
	Quantity int
}

type UpdateDiscount struct {
	ItemID  int
	Percent float64
}

// UpdateMisc adds Delta to the item's misc amount; misc charges accrue.
type UpdateMisc struct {
	ItemID int
	Delta  int64
}

type UpdateType struct {
	ItemID int
	Type   domain.TransactionType
}

type ToggleUpsell struct {
	ItemID int
}

type RemoveItem struct {
	ItemID int
}

type RestoreItem struct {
	ItemID int
}

type ClearAll struct{}

// LoadReturn replaces the whole ledger with the items of a prior transaction.
type LoadReturn struct {
	InvoiceNumber string
	Items         []domain.SourceLineItem
}

func (AddItem) command()        {}
func (UpdateQuantity) command() {}
func (UpdateDiscount) command() {}
func (UpdateMisc) command()     {}
func (UpdateType) command()     {}
func (ToggleUpsell) command()   {}
func (RemoveItem) command()     {}
func (RestoreItem) command()    {}
func (ClearAll) command()       {}
func (LoadReturn) command()     {}

// Name is the wire name used by the HTTP API and metrics labels.
func Name(cmd Command) string {
	switch cmd.(type) {
	case AddItem:
		return "add"
	case UpdateQuantity:
		return "update-quantity"
	case UpdateDiscount:
		return "update-discount"
	case UpdateMisc:
		return "update-misc"
	case UpdateType:
		return "update-type"
	case ToggleUpsell:
		return "toggle-upsell"
	case RemoveItem:
		return "remove"
	case RestoreItem:
		return "restore"
	case ClearAll:
		return "clear"
	case LoadReturn:
		return "load-return"
	}
	return "unknown"
}
