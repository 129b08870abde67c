// Package ledger talks to the escrow and staking service that holds task funds
// and worker collateral.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"disputeflow/config"
)

// Client implements settlement.Escrow and settlement.Staking over HTTP. Retries
// cover 5xx and 429 responses; the ledger deduplicates on the Idempotency-Key
// header and answers a replay with 409.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
}

func NewClient(cfg config.LedgerConfig) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = slog.Default().With("component", "disputeflow.ledger")
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rc.HTTPClient.Timeout = timeout

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    rc,
	}
}

// WithRetryWait overrides the backoff bounds.
func (c *Client) WithRetryWait(min, max time.Duration) *Client {
	c.http.RetryWaitMin = min
	c.http.RetryWaitMax = max
	return c
}

func (c *Client) Release(ctx context.Context, key, escrowID, workerID string, amount decimal.Decimal) error {
	return c.post(ctx, key, "/escrows/"+url.PathEscape(escrowID)+"/release", map[string]any{
		"worker_id": workerID,
		"amount":    amount,
	})
}

func (c *Client) Refund(ctx context.Context, key, escrowID, requesterID string, amount decimal.Decimal) error {
	return c.post(ctx, key, "/escrows/"+url.PathEscape(escrowID)+"/refund", map[string]any{
		"requester_id": requesterID,
		"amount":       amount,
	})
}

func (c *Client) SplitRelease(ctx context.Context, key, escrowID string, workerShare, requesterShare decimal.Decimal) error {
	return c.post(ctx, key, "/escrows/"+url.PathEscape(escrowID)+"/split", map[string]any{
		"worker_share":    workerShare,
		"requester_share": requesterShare,
	})
}

func (c *Client) ReleaseStake(ctx context.Context, key, taskID, workerID string) error {
	return c.post(ctx, key, "/stakes/"+url.PathEscape(taskID)+"/release", map[string]any{
		"worker_id": workerID,
	})
}

func (c *Client) SlashStake(ctx context.Context, key, taskID, workerID string, requesterShareBps int) error {
	return c.post(ctx, key, "/stakes/"+url.PathEscape(taskID)+"/slash", map[string]any{
		"worker_id":           workerID,
		"requester_share_bps": requesterShareBps,
	})
}

func (c *Client) PartialSlash(ctx context.Context, key, taskID, workerID string, slashBps, requesterShareBps int) error {
	return c.post(ctx, key, "/stakes/"+url.PathEscape(taskID)+"/partial-slash", map[string]any{
		"worker_id":           workerID,
		"slash_bps":           slashBps,
		"requester_share_bps": requesterShareBps,
	})
}

func (c *Client) ForfeitEscalationStake(ctx context.Context, key, disputeID, appellantID string, amount decimal.Decimal) error {
	return c.post(ctx, key, "/escalation-stakes/"+url.PathEscape(disputeID)+"/forfeit", map[string]any{
		"appellant_id": appellantID,
		"amount":       amount,
	})
}

func (c *Client) ReturnEscalationStake(ctx context.Context, key, disputeID, appellantID string, amount decimal.Decimal) error {
	return c.post(ctx, key, "/escalation-stakes/"+url.PathEscape(disputeID)+"/return", map[string]any{
		"appellant_id": appellantID,
		"amount":       amount,
	})
}

func (c *Client) post(ctx context.Context, key, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("ledger: marshal request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", key)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already applied under this idempotency key.
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("ledger: POST %s: status %d: %s", path, resp.StatusCode, string(bytes.TrimSpace(snippet)))
}
