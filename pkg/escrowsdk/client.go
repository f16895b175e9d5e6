// Package escrowsdk is a Go client for the escrow HTTP API.
package escrowsdk

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

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Principal is sent as "Authorization: Principal <id>". Empty calls
	// anonymously.
	Principal string
}

func New(baseURL, principal string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Principal:  principal,
	}
}

// APIError is a non-2xx response decoded from the service error envelope.
type APIError struct {
	Status    int
	RequestID string
	Code      string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// Kind maps the response code back to an apierr kind.
func (e *APIError) Kind() apierr.Kind {
	for k := apierr.Internal; k <= apierr.FailedPrecondition; k++ {
		if k.String() == e.Code {
			return k
		}
	}
	return apierr.Internal
}

type User struct {
	Principal string      `json:"principal"`
	Role      domain.Role `json:"role"`
}

type CreateContractRequest struct {
	Payload string `json:"payload"`
	Buyer   string `json:"buyer"`
	Seller  string `json:"seller"`
	// IdempotencyKey is sent as a header, not in the body.
	IdempotencyKey string `json:"-"`
}

type PaymentRequest struct {
	Seller      string `json:"seller"`
	Destination string `json:"destination"`
	Amount      uint64 `json:"amount"`
}

type Payout struct {
	PayoutID    string     `json:"payout_id"`
	ContractID  string     `json:"contract_id"`
	Seller      string     `json:"seller"`
	Destination string     `json:"destination"`
	Amount      uint64     `json:"amount"`
	State       string     `json:"state"`
	TxID        string     `json:"tx_id,omitempty"`
	Failure     string     `json:"failure,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
}

type Balance struct {
	Address string `json:"address,omitempty"`
	Balance string `json:"balance"`
}

func (c *Client) Whoami(ctx context.Context) (string, error) {
	var out struct {
		Principal string `json:"principal"`
	}
	if err := c.do(ctx, http.MethodGet, "/escrow/whoami", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Principal, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/escrow/users", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) CreateUser(ctx context.Context, principal string, role domain.Role) error {
	return c.do(ctx, http.MethodPost, "/escrow/users", nil, User{Principal: principal, Role: role}, nil)
}

func (c *Client) UpdateUser(ctx context.Context, principal string, role domain.Role) error {
	body := map[string]any{"role": role}
	return c.do(ctx, http.MethodPut, "/escrow/users/"+url.PathEscape(principal), nil, body, nil)
}

func (c *Client) RemoveUser(ctx context.Context, principal string) error {
	return c.do(ctx, http.MethodDelete, "/escrow/users/"+url.PathEscape(principal), nil, nil, nil)
}

func (c *Client) CreateContract(ctx context.Context, in CreateContractRequest) (string, error) {
	var h http.Header
	if in.IdempotencyKey != "" {
		h = http.Header{"Idempotency-Key": []string{in.IdempotencyKey}}
	}
	var out struct {
		ContractID string `json:"contract_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/escrow/contracts", h, in, &out); err != nil {
		return "", err
	}
	return out.ContractID, nil
}

func (c *Client) GetContract(ctx context.Context, contractID string) (*domain.Contract, error) {
	var out struct {
		Contract domain.Contract `json:"contract"`
	}
	if err := c.do(ctx, http.MethodGet, contractPath(contractID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Contract, nil
}

// Sign records the client principal's signature and reports whether the
// contract is now signed by both parties.
func (c *Client) Sign(ctx context.Context, contractID string) (bool, error) {
	var out struct {
		Signed bool `json:"signed"`
	}
	if err := c.do(ctx, http.MethodPost, contractPath(contractID)+"/sign", nil, nil, &out); err != nil {
		return false, err
	}
	return out.Signed, nil
}

func (c *Client) IsSigned(ctx context.Context, contractID string) (bool, error) {
	var out struct {
		Signed bool `json:"signed"`
	}
	if err := c.do(ctx, http.MethodGet, contractPath(contractID)+"/signed", nil, nil, &out); err != nil {
		return false, err
	}
	return out.Signed, nil
}

func (c *Client) IssuePayment(ctx context.Context, contractID string, in PaymentRequest) (*Payout, error) {
	var out struct {
		Payout Payout `json:"payout"`
	}
	if err := c.do(ctx, http.MethodPost, contractPath(contractID)+"/payments", nil, in, &out); err != nil {
		return nil, err
	}
	return &out.Payout, nil
}

func (c *Client) Payouts(ctx context.Context, contractID string) ([]Payout, error) {
	var out struct {
		Payouts []Payout `json:"payouts"`
	}
	if err := c.do(ctx, http.MethodGet, contractPath(contractID)+"/payments", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Payouts, nil
}

func (c *Client) LedgerAddress(ctx context.Context) (string, error) {
	var out struct {
		Address string `json:"address"`
	}
	if err := c.do(ctx, http.MethodGet, "/escrow/ledger/address", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Address, nil
}

func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var out Balance
	if err := c.do(ctx, http.MethodGet, "/escrow/ledger/balances/"+url.PathEscape(address), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TokenBalance queries address, or the service's own account when address is
// empty.
func (c *Client) TokenBalance(ctx context.Context, address string) (*Balance, error) {
	p := "/escrow/ledger/token-balance"
	if address != "" {
		p += "?" + url.Values{"address": []string{address}}.Encode()
	}
	var out Balance
	if err := c.do(ctx, http.MethodGet, p, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func contractPath(id string) string { return "/escrow/contracts/" + url.PathEscape(id) }

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Principal != "" {
		req.Header.Set("Authorization", "Principal "+c.Principal)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var env struct {
		RequestID string `json:"request_id"`
		Error     struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&env)
	e := &APIError{Status: resp.StatusCode, RequestID: env.RequestID, Code: env.Error.Code, Message: env.Error.Message}
	if e.Code == "" {
		e.Code = http.StatusText(resp.StatusCode)
	}
	return e
}
