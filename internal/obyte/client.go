// internal/obyte/client.go
package obyte

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/devid-org/github-attestation-bot/internal/logging"
)

// Client talks JSON-RPC to the headless wallet sidecar, which owns the keys
// and the ledger connection. Every ledger capability the bot consumes goes
// through here.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	nextID     uint64
}

func NewClient(rpcURL string) *Client {
	return &Client{
		rpcURL: rpcURL,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("wallet rpc %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wallet rpc %s returned status %d: %s", method, resp.StatusCode, data)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// callWithRetry wraps read-only calls; writes are never retried here because
// the periodic sweeps own write retries.
func (c *Client) callWithRetry(ctx context.Context, method string, params interface{}, result interface{}) error {
	return retry.Do(
		func() error {
			return c.call(ctx, method, params, result)
		},
		retry.Attempts(3),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			logging.Warn("retrying wallet rpc call",
				zap.String("method", method), zap.Uint("attempt", n), zap.Error(err))
		}),
	)
}

// IssueNextAddress asks the wallet to derive a fresh receiving address.
// FirstAddress is the wallet's stable primary address; it signs every
// attestation unit we post.
func (c *Client) FirstAddress(ctx context.Context) (string, error) {
	var address string
	if err := c.callWithRetry(ctx, "getFirstAddress", nil, &address); err != nil {
		return "", err
	}
	if !IsValidAddress(address) {
		return "", fmt.Errorf("wallet reported malformed first address %q", address)
	}
	return address, nil
}

func (c *Client) IssueNextAddress(ctx context.Context) (string, error) {
	var address string
	if err := c.call(ctx, "issueNextAddress", nil, &address); err != nil {
		return "", err
	}
	if !IsValidAddress(address) {
		return "", fmt.Errorf("wallet issued malformed address %q", address)
	}
	return address, nil
}

// PostUnit composes, signs and broadcasts a unit; returns the unit id.
func (c *Client) PostUnit(ctx context.Context, req PostRequest) (string, error) {
	var unit string
	if err := c.call(ctx, "postUnit", req, &unit); err != nil {
		return "", err
	}
	return unit, nil
}

// SendAllFrom sweeps the full base-asset balance of the paying addresses to
// a single destination.
func (c *Client) SendAllFrom(ctx context.Context, payingAddresses []string, toAddress string) (string, error) {
	var unit string
	params := map[string]interface{}{
		"paying_addresses": payingAddresses,
		"to_address":       toAddress,
		"send_all":         true,
	}
	if err := c.call(ctx, "sendAllFrom", params, &unit); err != nil {
		return "", err
	}
	return unit, nil
}

func (c *Client) GetBalance(ctx context.Context, address string) (Balance, error) {
	var balance Balance
	err := c.callWithRetry(ctx, "getBalance", map[string]string{"address": address}, &balance)
	return balance, err
}

// UnitAuthors returns the signing addresses of a unit.
func (c *Client) UnitAuthors(ctx context.Context, unit string) ([]string, error) {
	var authors []string
	err := c.callWithRetry(ctx, "getUnitAuthors", map[string]string{"unit": unit}, &authors)
	return authors, err
}

// ValidateSignedMessage delegates cryptographic validation of a signed
// envelope to the wallet. A nil error means the signature checks out against
// its claimed author.
func (c *Client) ValidateSignedMessage(ctx context.Context, message *SignedMessage) error {
	var valid bool
	if err := c.call(ctx, "validateSignedMessage", json.RawMessage(message.Raw()), &valid); err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("signature validation failed")
	}
	return nil
}

// IsCatchingUp reports whether the wallet is still syncing; sweeps that read
// stability must wait it out.
func (c *Client) IsCatchingUp(ctx context.Context) (bool, error) {
	var catchingUp bool
	err := c.callWithRetry(ctx, "isCatchingUp", nil, &catchingUp)
	return catchingUp, err
}

// ListConsolidatableAddresses filters our receiving addresses down to the
// ones holding stable, unspent base-asset outputs with no pending self-spend,
// capped at the per-unit author limit.
func (c *Client) ListConsolidatableAddresses(ctx context.Context, addresses []string, max int) ([]string, error) {
	var out []string
	params := map[string]interface{}{
		"addresses": addresses,
		"max":       max,
	}
	err := c.callWithRetry(ctx, "listConsolidatableAddresses", params, &out)
	return out, err
}

// GetEvents returns activity on our addresses since the cursor. Delivery is
// at least once across restarts; consumers must be idempotent.
func (c *Client) GetEvents(ctx context.Context, cursor string, addresses []string) (*Events, error) {
	var events Events
	params := map[string]interface{}{
		"cursor":    cursor,
		"addresses": addresses,
	}
	if err := c.callWithRetry(ctx, "getEvents", params, &events); err != nil {
		return nil, err
	}
	return &events, nil
}
