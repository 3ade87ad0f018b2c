package domain

import "time"

type TransactionType string

const (
	TypePrescription           TransactionType = "prescription"
	TypeCompoundedPrescription TransactionType = "compounded"
	TypeOverTheCounter         TransactionType = "otc"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypePrescription, TypeCompoundedPrescription, TypeOverTheCounter:
		return true
	}
	return false
}

type Flow string

const (
	FlowSale   Flow = "sale"
	FlowReturn Flow = "return"
)

func (f Flow) Valid() bool {
	return f == FlowSale || f == FlowReturn
}

// ReturnOrigin is present only on items loaded from a prior transaction.
// Items added during the session have no origin and therefore no deleted flag.
type ReturnOrigin struct {
	SourceInvoice string `json:"source_invoice"`
	Deleted       bool   `json:"deleted"`
}

type LineItem struct {
	ID              int             `json:"id"`
	ProductCode     string          `json:"product_code"`
	Name            string          `json:"name"`
	Type            TransactionType `json:"type"`
	UnitPrice       int64           `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	Subtotal        int64           `json:"subtotal"`
	DiscountPercent float64         `json:"discount_percent"`
	ServiceCharge   int64           `json:"service_charge"`
	MiscAmount      int64           `json:"misc_amount"`
	PromoAmount     int64           `json:"promo_amount"`
	PromoPercent    float64         `json:"promo_percent"`
	Upsell          bool            `json:"upsell"`
	NoVoucherCount  int             `json:"no_voucher_count"`
	Total           int64           `json:"total"`
	StockSnapshot   *int            `json:"stock_snapshot,omitempty"`
	Return          *ReturnOrigin   `json:"return,omitempty"`
}

func (it LineItem) IsOriginalReturnItem() bool {
	return it.Return != nil
}

func (it LineItem) IsDeleted() bool {
	return it.Return != nil && it.Return.Deleted
}

// IsActive reports whether the item counts towards totals and payment.
func (it LineItem) IsActive() bool {
	return it.Name != "" && it.Quantity > 0 && !it.IsDeleted()
}

func (it LineItem) Clone() LineItem {
	out := it
	if it.StockSnapshot != nil {
		v := *it.StockSnapshot
		out.StockSnapshot = &v
	}
	if it.Return != nil {
		r := *it.Return
		out.Return = &r
	}
	return out
}

// ProductSnapshot is what the product picker hands over when an operator
// selects a product. Stock is captured once and never re-fetched.
type ProductSnapshot struct {
	ProductCode    string          `json:"product_code"`
	Name           string          `json:"name"`
	Type           TransactionType `json:"type"`
	UnitPrice      int64           `json:"unit_price"`
	PromoAmount    int64           `json:"promo_amount"`
	PromoPercent   float64         `json:"promo_percent"`
	NoVoucherCount int             `json:"no_voucher_count"`
	Stock          *int            `json:"stock,omitempty"`
}

type Totals struct {
	Subtotal      int64 `json:"subtotal"`
	Misc          int64 `json:"misc"`
	ServiceCharge int64 `json:"service_charge"`
	Discount      int64 `json:"discount"`
	Promo         int64 `json:"promo"`
	Total         int64 `json:"total"`
	ItemCount     int   `json:"item_count"`
}

// SourceLineItem is one row of a completed transaction as returned by the
// invoice service.
type SourceLineItem struct {
	ProductCode     string          `json:"product_code"`
	Name            string          `json:"name"`
	Type            TransactionType `json:"type"`
	UnitPrice       int64           `json:"unit_price"`
	Quantity        int             `json:"quantity"`
	DiscountPercent float64         `json:"discount_percent"`
	ServiceCharge   int64           `json:"service_charge"`
	MiscAmount      int64           `json:"misc_amount"`
	PromoAmount     int64           `json:"promo_amount"`
	PromoPercent    float64         `json:"promo_percent"`
	Upsell          bool            `json:"upsell"`
	NoVoucherCount  int             `json:"no_voucher_count"`
	Stock           *int            `json:"stock,omitempty"`
}

type InvoiceLookup struct {
	InvoiceNumber string           `json:"invoice_number"`
	Items         []SourceLineItem `json:"items"`
	CustomerName  string           `json:"customer_name,omitempty"`
	DoctorName    string           `json:"doctor_name,omitempty"`
}

type ReturnMetadata struct {
	InvoiceNumber string    `json:"invoice_number"`
	CustomerName  string    `json:"customer_name,omitempty"`
	DoctorName    string    `json:"doctor_name,omitempty"`
	LoadedAt      time.Time `json:"loaded_at"`
}

const FullReturnType = "full-return"

type FullReturnSubmission struct {
	Type                    string           `json:"type"`
	OriginalTransactionData InvoiceLookup    `json:"originalTransactionData"`
	OriginalProducts        []SourceLineItem `json:"originalProducts"`
	ReturnReason            string           `json:"returnReason"`
}

const (
	SubmissionSale       = "sale"
	SubmissionItemReturn = "item-return"
)

type TransactionSubmission struct {
	Type           string     `json:"type"`
	IdempotencyKey string     `json:"idempotency_key"`
	SourceInvoice  string     `json:"source_invoice,omitempty"`
	Items          []LineItem `json:"items"`
	Totals         Totals     `json:"totals"`
}

type SubmitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

const PendingUpdateQuantity = "update-quantity"

type PendingPayload struct {
	ItemID   int `json:"item_id"`
	Quantity int `json:"quantity"`
}

// PendingAction is a stock warning waiting for operator confirmation.
type PendingAction struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   PendingPayload `json:"payload"`
	Outcome   string         `json:"outcome"`
	Available *int           `json:"available,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type SessionState struct {
	SessionID      string          `json:"session_id"`
	Flow           Flow            `json:"flow"`
	Items          []LineItem      `json:"items"`
	NextID         int             `json:"next_id"`
	Totals         Totals          `json:"totals"`
	PendingActions []PendingAction `json:"pending_actions"`
	Return         *ReturnMetadata `json:"return,omitempty"`
}

type CommandRequest struct {
	Type            string           `json:"type"`
	ItemID          int              `json:"item_id,omitempty"`
	Quantity        int              `json:"quantity,omitempty"`
	Percent         float64          `json:"percent,omitempty"`
	Amount          int64            `json:"amount,omitempty"`
	TransactionType TransactionType  `json:"transaction_type,omitempty"`
	Product         *ProductSnapshot `json:"product,omitempty"`
}

type CommandResponse struct {
	Changed bool         `json:"changed"`
	ItemID  int          `json:"item_id,omitempty"`
	State   SessionState `json:"state"`
}

type ItemBasedReturnRequest struct {
	InvoiceNumber string `json:"invoice_number"`
}

type FullReturnRequest struct {
	InvoiceNumber string `json:"invoice_number"`
	Reason        string `json:"reason"`
	ManagerPIN    string `json:"manager_pin"`
}

type CompleteResponse struct {
	Result SubmitResult `json:"result"`
	Totals Totals       `json:"totals"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
