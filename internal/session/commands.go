package session

import (
	"fmt"
	"strings"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/ledger"
)

// Wire limits keep unitPrice*quantity and accumulated misc amounts well
// inside int64.
const (
	MaxQuantity = 100_000
	MaxAmount   = 1_000_000_000_000
)

// CommandFromRequest maps the wire form of a command onto the ledger's
// command set.
func CommandFromRequest(req domain.CommandRequest) (ledger.Command, error) {
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "add":
		if req.Product == nil || strings.TrimSpace(req.Product.ProductCode) == "" || strings.TrimSpace(req.Product.Name) == "" {
			return nil, fmt.Errorf("%w: add requires a product with code and name", ErrInvalidCommand)
		}
		if req.Product.UnitPrice < 0 || req.Product.UnitPrice > MaxAmount {
			return nil, fmt.Errorf("%w: unit price must be between 0 and %d", ErrInvalidCommand, int64(MaxAmount))
		}
		if req.Product.PromoAmount < 0 || req.Product.PromoAmount > MaxAmount {
			return nil, fmt.Errorf("%w: promo amount must be between 0 and %d", ErrInvalidCommand, int64(MaxAmount))
		}
		return ledger.AddItem{Product: *req.Product}, nil
	case "update-quantity":
		if req.Quantity > MaxQuantity {
			return nil, fmt.Errorf("%w: quantity cannot exceed %d", ErrInvalidCommand, MaxQuantity)
		}
		return ledger.UpdateQuantity{ItemID: req.ItemID, Quantity: req.Quantity}, nil
	case "update-discount":
		return ledger.UpdateDiscount{ItemID: req.ItemID, Percent: req.Percent}, nil
	case "update-misc":
		if req.Amount > MaxAmount || req.Amount < -MaxAmount {
			return nil, fmt.Errorf("%w: misc amount out of range", ErrInvalidCommand)
		}
		return ledger.UpdateMisc{ItemID: req.ItemID, Delta: req.Amount}, nil
	case "update-type":
		if !req.TransactionType.Valid() {
			return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidCommand, req.TransactionType)
		}
		return ledger.UpdateType{ItemID: req.ItemID, Type: req.TransactionType}, nil
	case "toggle-upsell":
		return ledger.ToggleUpsell{ItemID: req.ItemID}, nil
	case "remove":
		return ledger.RemoveItem{ItemID: req.ItemID}, nil
	case "restore":
		return ledger.RestoreItem{ItemID: req.ItemID}, nil
	case "clear":
		return ledger.ClearAll{}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, req.Type)
}
