package invoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/metrics"
)

var (
	// ErrNetwork covers transport failures, non-2xx responses and lookups
	// that come back without items.
	ErrNetwork = errors.New("invoice service unavailable")
	// ErrRejected is a well-formed response with success=false.
	ErrRejected = errors.New("transaction rejected")
)

// Error carries the message the invoice service returned, verbatim when
// there is one.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(baseURL string, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

type lookupEnvelope struct {
	Data *struct {
		Items        *[]domain.SourceLineItem `json:"items"`
		CustomerName string                   `json:"customer_name"`
		DoctorName   string                   `json:"doctor_name"`
	} `json:"data"`
	Message string `json:"message"`
}

type submitEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Lookup fetches the items of a completed transaction.
func (c *Client) Lookup(ctx context.Context, invoiceNumber string) (domain.InvoiceLookup, error) {
	endpoint := fmt.Sprintf("%s/transaction/invoice?invoice_number=%s", c.baseURL, url.QueryEscape(invoiceNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.InvoiceLookup{}, fmt.Errorf("create lookup request: %w", err)
	}

	status, body, err := c.do(req)
	metrics.InvoiceCalls.WithLabelValues("lookup", metrics.Result(err)).Inc()
	if err != nil {
		return domain.InvoiceLookup{}, err
	}

	var env lookupEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.InvoiceLookup{}, &Error{Status: status, Message: "invalid response from invoice service", Err: ErrNetwork}
	}
	if env.Data == nil || env.Data.Items == nil || len(*env.Data.Items) == 0 {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("transaction %s has no items", invoiceNumber)
		}
		return domain.InvoiceLookup{}, &Error{Status: status, Message: msg, Err: ErrNetwork}
	}

	return domain.InvoiceLookup{
		InvoiceNumber: invoiceNumber,
		Items:         *env.Data.Items,
		CustomerName:  env.Data.CustomerName,
		DoctorName:    env.Data.DoctorName,
	}, nil
}

// Submit posts a transaction payload (sale, item return or full return).
func (c *Client) Submit(ctx context.Context, payload any) (domain.SubmitResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("marshal submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction", bytes.NewReader(raw))
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("create submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	metrics.InvoiceCalls.WithLabelValues("submit", metrics.Result(err)).Inc()
	if err != nil {
		return domain.SubmitResult{}, err
	}

	var env submitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.SubmitResult{}, &Error{Status: status, Message: "invalid response from invoice service", Err: ErrNetwork}
	}
	result := domain.SubmitResult{Success: env.Success, Message: env.Message}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "transaction rejected"
		}
		return result, &Error{Status: status, Message: msg, Err: ErrRejected}
	}
	return result, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read response: %v", ErrNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &env)
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("invoice service returned status %d", resp.StatusCode)
		}
		return resp.StatusCode, nil, &Error{Status: resp.StatusCode, Message: msg, Err: ErrNetwork}
	}
	return resp.StatusCode, body, nil
}
