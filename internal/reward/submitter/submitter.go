// Package submitter is the HTTP client for the settlement relayer, the
// service that signs and broadcasts reward transfers on chain.
package submitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/loyaltyrail/internal/config"
	obstracing "github.com/smallbiznis/loyaltyrail/internal/observability/tracing"
	"github.com/smallbiznis/loyaltyrail/internal/reward/domain"
	"github.com/smallbiznis/loyaltyrail/pkg/telemetry/correlation"
)

const (
	defaultTimeout = 20 * time.Second
	maxErrorBody   = 512
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(cfg config.Config) *Client {
	return NewClient(cfg.Relayer.URL, cfg.Relayer.Token, cfg.Relayer.Timeout)
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		httpClient: obstracing.WrapHTTPClient(&http.Client{
			Timeout: timeout,
		}),
	}
}

type submitResponse struct {
	TxHash string `json:"txHash"`
}

type statusResponse struct {
	Status domain.TxStatus `json:"status"`
}

// Submit posts a settlement and returns the transaction hash. The batch id is
// sent as the idempotency key.
func (c *Client) Submit(ctx context.Context, settlement domain.Settlement) (string, error) {
	body, err := json.Marshal(settlement)
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/settlements", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", settlement.BatchID)

	var out submitResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	hash := strings.TrimSpace(out.TxHash)
	if hash == "" {
		return "", domain.ErrInvalidTxHash
	}
	return hash, nil
}

// TransactionStatus reports the receipt state of txHash. A hash the relayer
// does not know yet is reported as pending.
func (c *Client) TransactionStatus(ctx context.Context, txHash string) (domain.TxStatus, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(txHash), nil)
	if err != nil {
		return "", err
	}

	var out statusResponse
	if err := c.do(req, &out); err != nil {
		if isNotFound(err) {
			return domain.TxPending, nil
		}
		return "", err
	}
	switch out.Status {
	case domain.TxPending, domain.TxConfirmed, domain.TxFailed:
		return out.Status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", domain.ErrRelayerRejected, out.Status)
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		req.Header.Set("X-Correlation-Id", cid)
	}
	return req, nil
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrRelayerUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		sentinel := domain.ErrRelayerRejected
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			sentinel = domain.ErrRelayerUnavailable
		}
		return &statusError{
			code: resp.StatusCode,
			err:  fmt.Errorf("%w: %s %s", sentinel, resp.Status, strings.TrimSpace(string(snippet))),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %s", domain.ErrRelayerRejected, err.Error())
	}
	return nil
}
