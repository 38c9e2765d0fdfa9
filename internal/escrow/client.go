// Package escrow implements the REST client for the external escrow
// ledger. The ledger is the sole authority over user balances: the engine
// locks funds before placing any order, releases locks when a trade dies,
// and credits payouts at settlement. It never computes balances itself.
package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/crwnlabs/crossarb/internal/domain"
)

// Client talks to the escrow ledger's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an escrow ledger client.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger.With(slog.String("component", "escrow")),
	}
}

type lockRequestBody struct {
	UserID      string  `json:"user_id"`
	Amount      float64 `json:"amount"`
	Purpose     string  `json:"purpose"`
	ReferenceID string  `json:"reference_id"`
}

type lockResponseBody struct {
	Success bool   `json:"success"`
	LockID  string `json:"lock_id"`
	Error   string `json:"error"`
}

// Lock reserves funds against the user's available balance. A refusal
// (insufficient balance) comes back as LockResult{Success: false} with a
// nil error; only transport or server failures return an error.
func (c *Client) Lock(ctx context.Context, req domain.LockRequest) (domain.LockResult, error) {
	body := lockRequestBody{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Purpose:     req.Purpose,
		ReferenceID: req.ReferenceID,
	}

	respBody, status, err := c.do(ctx, http.MethodPost, "/escrow/locks", body)
	if err != nil {
		return domain.LockResult{}, fmt.Errorf("escrow: lock funds: %w", err)
	}

	var resp lockResponseBody
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.LockResult{}, fmt.Errorf("escrow: decode lock response: %w", err)
	}

	// 422 carries a structured refusal (insufficient balance and friends).
	if status == http.StatusUnprocessableEntity || !resp.Success {
		c.logger.Warn("escrow lock refused",
			slog.String("user_id", req.UserID),
			slog.Float64("amount", req.Amount),
			slog.String("reason", resp.Error),
		)
		return domain.LockResult{Success: false, Error: resp.Error}, nil
	}

	c.logger.Info("escrow lock acquired",
		slog.String("lock_id", resp.LockID),
		slog.String("reference_id", req.ReferenceID),
		slog.Float64("amount", req.Amount),
	)
	return domain.LockResult{Success: true, LockID: resp.LockID}, nil
}

// Release frees a previously locked reservation. Releasing a lock that is
// already released (or no longer exists) is a no-op: rollback paths retry
// release and must be able to do so safely.
func (c *Client) Release(ctx context.Context, lockID, reason string) error {
	body := map[string]string{"reason": reason}

	_, status, err := c.do(ctx, http.MethodPost, "/escrow/locks/"+lockID+"/release", body)
	if err != nil {
		if status == http.StatusNotFound || status == http.StatusConflict {
			c.logger.Debug("escrow lock already released",
				slog.String("lock_id", lockID),
				slog.Int("status", status),
			)
			return nil
		}
		return fmt.Errorf("escrow: release lock %s: %w", lockID, err)
	}

	c.logger.Info("escrow lock released",
		slog.String("lock_id", lockID),
		slog.String("reason", reason),
	)
	return nil
}

// Credit adds settled winnings to the user's balance. Payouts only: the
// engine never calls this outside the settlement path.
func (c *Client) Credit(ctx context.Context, userID string, amount float64, reason string) error {
	body := map[string]any{
		"user_id": userID,
		"amount":  amount,
		"reason":  reason,
	}

	if _, _, err := c.do(ctx, http.MethodPost, "/escrow/credits", body); err != nil {
		return fmt.Errorf("escrow: credit %s: %w", userID, err)
	}

	c.logger.Info("escrow credit posted",
		slog.String("user_id", userID),
		slog.Float64("amount", amount),
		slog.String("reason", reason),
	)
	return nil
}

// GetLockByReference looks up the lock attached to a trade id. Recovery
// uses this to find orphaned reservations for trades that died mid-flight.
func (c *Client) GetLockByReference(ctx context.Context, referenceID string) (*domain.EscrowLock, error) {
	respBody, status, err := c.do(ctx, http.MethodGet, "/escrow/locks?reference_id="+referenceID, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("escrow: lock for reference %s: %w", referenceID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("escrow: get lock by reference %s: %w", referenceID, err)
	}

	var resp struct {
		ID          string  `json:"id"`
		UserID      string  `json:"user_id"`
		Amount      float64 `json:"amount"`
		Purpose     string  `json:"purpose"`
		ReferenceID string  `json:"reference_id"`
		Status      string  `json:"status"`
		CreatedAt   int64   `json:"created_at"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("escrow: decode lock: %w", err)
	}

	return &domain.EscrowLock{
		ID:          resp.ID,
		UserID:      resp.UserID,
		Amount:      resp.Amount,
		Purpose:     resp.Purpose,
		ReferenceID: resp.ReferenceID,
		Status:      domain.EscrowLockStatus(resp.Status),
		CreatedAt:   time.Unix(resp.CreatedAt, 0),
	}, nil
}

// do sends an authenticated request and returns the body and HTTP status.
// Non-2xx responses are returned as errors alongside the status code so
// callers can special-case idempotent paths.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, resp.StatusCode, nil
	}
	// 422 is a structured refusal, not a failure.
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return respBody, resp.StatusCode, nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		err = fmt.Errorf("%w: %s", domain.ErrUnauthorized, string(respBody))
	case http.StatusNotFound:
		err = fmt.Errorf("%w: %s", domain.ErrNotFound, string(respBody))
	default:
		err = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, resp.StatusCode, err
}

// Compile-time interface check.
var _ domain.Escrow = (*Client)(nil)
