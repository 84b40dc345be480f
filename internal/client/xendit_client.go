package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// XenditClient calls the payment gateway to create hosted invoices
type XenditClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewXenditClient creates a new payment gateway client
func NewXenditClient(baseURL, secretKey string) *XenditClient {
	return &XenditClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateInvoiceRequest is the request to create a hosted invoice
type CreateInvoiceRequest struct {
	ExternalID      string `json:"external_id"`
	Amount          int64  `json:"amount"`
	PayerEmail      string `json:"payer_email,omitempty"`
	Description     string `json:"description,omitempty"`
	InvoiceDuration int    `json:"invoice_duration,omitempty"` // seconds
	Currency        string `json:"currency,omitempty"`
}

// Invoice is the gateway's invoice resource
type Invoice struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Status     string    `json:"status"`
	Amount     int64     `json:"amount"`
	InvoiceURL string    `json:"invoice_url"`
	ExpiryDate time.Time `json:"expiry_date"`
}

// CreateInvoice creates a hosted invoice for an order
func (c *XenditClient) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	log.Printf("[XenditClient] Creating invoice (external_id: %s, amount: %d)", req.ExternalID, req.Amount)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v2/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.secretKey, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var invoice Invoice
	if err := json.Unmarshal(respBody, &invoice); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}

	log.Printf("[XenditClient] Invoice created: %s (status: %s)", invoice.ID, invoice.Status)
	return &invoice, nil
}

// GetInvoice fetches an invoice by its gateway ID
func (c *XenditClient) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/v2/invoices/"+invoiceID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.SetBasicAuth(c.secretKey, "")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var invoice Invoice
	if err := json.Unmarshal(respBody, &invoice); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}
	return &invoice, nil
}
