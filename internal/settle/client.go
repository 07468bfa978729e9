// Package settle notifies the external payment/settlement service that a
// sale happened. The receipt carries the parties, item and amount, never
// payment instructions; capture is entirely the settlement service's
// business.
package settle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mintforge/dropmarket/internal/domain"
)

// Client posts sale receipts to a settlement endpoint over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient creates a settlement Client for the given endpoint. An empty
// apiKey sends unauthenticated requests.
func NewClient(endpoint, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(slog.String("component", "settle")),
	}
}

// RecordSale posts the receipt. The sale is already committed by the time
// this runs, so callers log failures instead of rolling back.
func (c *Client) RecordSale(ctx context.Context, r domain.SaleReceipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("settle: marshal receipt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("settle: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("settle: send receipt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("settle: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	c.logger.DebugContext(ctx, "receipt recorded",
		slog.String("kind", string(r.Kind)),
		slog.String("item_id", r.ItemID),
	)
	return nil
}

// Noop is a Settler that drops receipts; used when no settlement endpoint is
// configured.
type Noop struct{}

// RecordSale discards the receipt.
func (Noop) RecordSale(context.Context, domain.SaleReceipt) error { return nil }

// Compile-time interface checks.
var (
	_ domain.Settler = (*Client)(nil)
	_ domain.Settler = Noop{}
)
