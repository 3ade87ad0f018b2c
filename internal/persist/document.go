package persist

import (
	"encoding/json"
	"errors"
	"fmt"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/pricing"
)

var ErrMalformed = errors.New("malformed ledger document")

// document is the stored shape: {"items": [...], "nextId": n}.
type document struct {
	Items  *[]storedItem `json:"items"`
	NextID *int          `json:"nextId"`
}

type storedItem struct {
	ID                   int                    `json:"id"`
	ProductCode          string                 `json:"productCode"`
	Name                 string                 `json:"name"`
	Type                 domain.TransactionType `json:"type"`
	UnitPrice            int64                  `json:"unitPrice"`
	Quantity             int                    `json:"quantity"`
	Subtotal             int64                  `json:"subtotal"`
	DiscountPercent      float64                `json:"discountPercent"`
	ServiceCharge        int64                  `json:"serviceCharge"`
	MiscAmount           int64                  `json:"miscAmount"`
	PromoAmount          int64                  `json:"promoAmount"`
	PromoPercent         float64                `json:"promoPercent"`
	UpsellFlag           bool                   `json:"upsellFlag"`
	NoVoucherCount       int                    `json:"noVoucherCount"`
	Total                int64                  `json:"total"`
	StockSnapshot        *int                   `json:"stockSnapshot"`
	IsOriginalReturnItem bool                   `json:"isOriginalReturnItem"`
	IsDeleted            bool                   `json:"isDeleted"`
	SourceInvoice        string                 `json:"sourceInvoice,omitempty"`
}

func Encode(items []domain.LineItem, nextID int) ([]byte, error) {
	stored := make([]storedItem, 0, len(items))
	for _, item := range items {
		s := storedItem{
			ID:              item.ID,
			ProductCode:     item.ProductCode,
			Name:            item.Name,
			Type:            item.Type,
			UnitPrice:       item.UnitPrice,
			Quantity:        item.Quantity,
			Subtotal:        item.Subtotal,
			DiscountPercent: item.DiscountPercent,
			ServiceCharge:   item.ServiceCharge,
			MiscAmount:      item.MiscAmount,
			PromoAmount:     item.PromoAmount,
			PromoPercent:    item.PromoPercent,
			UpsellFlag:      item.Upsell,
			NoVoucherCount:  item.NoVoucherCount,
			Total:           item.Total,
			StockSnapshot:   item.StockSnapshot,
		}
		if item.Return != nil {
			s.IsOriginalReturnItem = true
			s.IsDeleted = item.Return.Deleted
			s.SourceInvoice = item.Return.SourceInvoice
		}
		stored = append(stored, s)
	}
	return json.Marshal(document{Items: &stored, NextID: &nextID})
}

// Decode parses a stored document. Any structural problem is reported as
// ErrMalformed; the caller discards the document rather than repairing it.
func Decode(payload []byte) ([]domain.LineItem, int, error) {
	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Items == nil || doc.NextID == nil {
		return nil, 0, fmt.Errorf("%w: missing items or nextId", ErrMalformed)
	}

	seen := make(map[int]struct{}, len(*doc.Items))
	items := make([]domain.LineItem, 0, len(*doc.Items))
	for _, s := range *doc.Items {
		if s.ID < 1 || s.Quantity < 0 {
			return nil, 0, fmt.Errorf("%w: item %d has invalid id or quantity", ErrMalformed, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, 0, fmt.Errorf("%w: duplicate id %d", ErrMalformed, s.ID)
		}
		seen[s.ID] = struct{}{}
		if s.IsDeleted && !s.IsOriginalReturnItem {
			return nil, 0, fmt.Errorf("%w: item %d deleted but not a return item", ErrMalformed, s.ID)
		}

		item := domain.LineItem{
			ID:              s.ID,
			ProductCode:     s.ProductCode,
			Name:            s.Name,
			Type:            s.Type,
			UnitPrice:       s.UnitPrice,
			Quantity:        s.Quantity,
			DiscountPercent: s.DiscountPercent,
			ServiceCharge:   s.ServiceCharge,
			MiscAmount:      s.MiscAmount,
			PromoAmount:     s.PromoAmount,
			PromoPercent:    s.PromoPercent,
			Upsell:          s.UpsellFlag,
			NoVoucherCount:  s.NoVoucherCount,
			StockSnapshot:   s.StockSnapshot,
		}
		if s.IsOriginalReturnItem {
			item.Return = &domain.ReturnOrigin{SourceInvoice: s.SourceInvoice, Deleted: s.IsDeleted}
		}
		items = append(items, pricing.Recompute(item))
	}
	return items, *doc.NextID, nil
}
