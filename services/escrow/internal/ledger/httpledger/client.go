// Package httpledger talks to a value-transfer rail over HTTP.
package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"escrowlane/pkg/reqsign"
	"escrowlane/services/escrow/internal/ledger"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	Secret  string
	now     func() time.Time
}

var _ ledger.Ledger = (*Client)(nil)

func New(baseURL, secret string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Secret:  secret,
		now:     time.Now,
	}
}

// RailError is a non-2xx answer from the rail.
type RailError struct {
	Status  int
	Code    string
	Message string
}

func (e *RailError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rail returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("rail returned %d", e.Status)
}

type transferBody struct {
	Amount    uint64         `json:"amount"`
	To        ledger.Address `json:"to"`
	Reference string         `json:"reference,omitempty"`
}

func (c *Client) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.Receipt, error) {
	b, err := json.Marshal(transferBody{Amount: req.Amount, To: req.To, Reference: req.Reference})
	if err != nil {
		return ledger.Receipt{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transfers", bytes.NewReader(b))
	if err != nil {
		return ledger.Receipt{}, err
	}
	httpReq.Header.Set("content-type", "application/json")
	if req.Reference != "" {
		httpReq.Header.Set("Idempotency-Key", req.Reference)
	}
	if err := reqsign.Sign(httpReq.Header, b, c.Secret, c.now()); err != nil {
		return ledger.Receipt{}, err
	}
	var out ledger.Receipt
	if err := c.do(httpReq, &out); err != nil {
		return ledger.Receipt{}, err
	}
	if out.TxID == "" {
		return ledger.Receipt{}, fmt.Errorf("rail accepted transfer without tx_id")
	}
	return out, nil
}

func (c *Client) Balance(ctx context.Context, addr ledger.Address) (string, error) {
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.get(ctx, "/accounts/"+addr.String()+"/balance", &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

func (c *Client) TokenBalance(ctx context.Context, addr *ledger.Address) (string, error) {
	path := "/account/token-balance"
	if addr != nil {
		path = "/accounts/" + addr.String() + "/token-balance"
	}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := c.get(ctx, path, &out); err != nil {
		return "", err
	}
	return out.Balance, nil
}

func (c *Client) Address(ctx context.Context) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := c.get(ctx, "/account", &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if err := reqsign.Sign(req.Header, nil, c.Secret, c.now()); err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &body)
		return &RailError{Status: resp.StatusCode, Code: body.Error.Code, Message: body.Error.Message}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
