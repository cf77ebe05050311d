package swift

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// callerHeader carries the caller address on withdraw/cancel calls.
const callerHeader = "X-Swift-Caller"

// Client wraps the HTTP interactions with the swift ledger REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
	caller      string
}

// Stream mirrors the ledger's stream record. Amounts are wei integers.
type Stream struct {
	Sender     string   `json:"sender"`
	Recipient  string   `json:"recipient"`
	Seq        uint64   `json:"seq"`
	Status     string   `json:"status"`
	StartTime  int64    `json:"start_time"`
	Duration   int64    `json:"duration"`
	LastUpdate int64    `json:"last_update"`
	FlowRate   *big.Int `json:"flow_rate"`
	Balance    *big.Int `json:"balance"`
	Deposited  *big.Int `json:"deposited"`
	Withdrawn  *big.Int `json:"withdrawn"`
	Refunded   *big.Int `json:"refunded"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}

// Active reports whether funds are still flowing.
func (s *Stream) Active() bool {
	return s != nil && s.Status == "active"
}

// Settlement summarizes where the money went after a withdraw or cancel.
type Settlement struct {
	Stream *Stream `json:"stream,omitempty"`
	Paid   string  `json:"paid"`
	Refund string  `json:"refund"`
}

// Owed reports the claimable amount at a ledger-chosen instant.
type Owed struct {
	Owed string `json:"owed"`
	At   int64  `json:"at"`
}

// OpenStreamRequest is the payload for opening a payment stream.
type OpenStreamRequest struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	TotalAmount string `json:"total_amount"`
	Duration    int64  `json:"duration"`
}

// Agent describes a registered agent.
type Agent struct {
	Address      string `json:"address"`
	Name         string `json:"name,omitempty"`
	Endpoint     string `json:"endpoint,omitempty"`
	RegisteredAt int64  `json:"registered_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// RegisterAgentRequest is the payload for agent registration.
type RegisterAgentRequest struct {
	Address  string `json:"address"`
	Name     string `json:"name,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// ServiceOffering describes a marketplace listing.
type ServiceOffering struct {
	Provider    string   `json:"provider"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	PriceWei    *big.Int `json:"price_wei"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// RegisterServiceRequest is the payload for publishing a service.
type RegisterServiceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PriceWei    string `json:"price_wei"`
}

// Message is a point-to-point agent message.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	StreamSeq uint64 `json:"stream_seq,omitempty"`
	SentAt    int64  `json:"sent_at"`
}

// SendMessageRequest is the payload for message delivery. Set TotalAmount and
// Duration to bundle the message with a new payment stream.
type SendMessageRequest struct {
	Sender      string `json:"sender"`
	Recipient   string `json:"recipient"`
	Content     string `json:"content"`
	TotalAmount string `json:"total_amount,omitempty"`
	Duration    int64  `json:"duration,omitempty"`
}

// SendMessageResponse bundles the delivered message with the stream opened
// alongside it, if any.
type SendMessageResponse struct {
	Message *Message `json:"message"`
	Stream  *Stream  `json:"stream,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("swift api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("swift api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the swift ledger API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// SetAccessToken stores a static bearer token for subsequent calls.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetCaller stores the address sent as caller identity on withdraw and
// cancel calls.
func (c *Client) SetCaller(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caller = address
}

// Caller returns the stored caller address.
func (c *Client) Caller() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caller
}

// OpenStream escrows the total amount and starts streaming it to the
// recipient over the requested duration.
func (c *Client) OpenStream(ctx context.Context, req OpenStreamRequest) (*Stream, error) {
	var opened Stream
	if err := c.post(ctx, "/api/v1/streams", req, &opened); err != nil {
		return nil, err
	}
	return &opened, nil
}

// GetStream fetches the latest stream record for a sender/recipient pair.
func (c *Client) GetStream(ctx context.Context, sender, recipient string) (*Stream, error) {
	var record Stream
	endpoint := fmt.Sprintf("/api/v1/streams/%s/%s", url.PathEscape(sender), url.PathEscape(recipient))
	if err := c.get(ctx, endpoint, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetOwed reports the amount the recipient could withdraw right now.
func (c *Client) GetOwed(ctx context.Context, sender, recipient string) (Owed, error) {
	var owed Owed
	endpoint := fmt.Sprintf("/api/v1/streams/%s/%s/owed", url.PathEscape(sender), url.PathEscape(recipient))
	if err := c.get(ctx, endpoint, &owed); err != nil {
		return Owed{}, err
	}
	return owed, nil
}

// Withdraw settles accrued funds to the recipient. The stored caller address
// must match the stream recipient.
func (c *Client) Withdraw(ctx context.Context, sender, recipient string) (Settlement, error) {
	var settled Settlement
	endpoint := fmt.Sprintf("/api/v1/streams/%s/%s/withdraw", url.PathEscape(sender), url.PathEscape(recipient))
	if err := c.post(ctx, endpoint, nil, &settled); err != nil {
		return Settlement{}, err
	}
	return settled, nil
}

// CancelStream settles accrued funds and refunds the rest to the sender. The
// stored caller address must match the stream sender.
func (c *Client) CancelStream(ctx context.Context, sender, recipient string) (Settlement, error) {
	var settled Settlement
	endpoint := fmt.Sprintf("/api/v1/streams/%s/%s/cancel", url.PathEscape(sender), url.PathEscape(recipient))
	if err := c.post(ctx, endpoint, nil, &settled); err != nil {
		return Settlement{}, err
	}
	return settled, nil
}

// ReopenStream cancels any active stream for the pair and opens a fresh one.
// A missing or already terminal stream is not an error.
func (c *Client) ReopenStream(ctx context.Context, req OpenStreamRequest) (*Stream, error) {
	if _, err := c.CancelStream(ctx, req.Sender, req.Recipient); err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
			return nil, err
		}
	}
	return c.OpenStream(ctx, req)
}

// History returns every generation of streams for the pair, oldest first.
func (c *Client) History(ctx context.Context, sender, recipient string) ([]*Stream, error) {
	var records []*Stream
	endpoint := fmt.Sprintf("/api/v1/streams/%s/%s/history", url.PathEscape(sender), url.PathEscape(recipient))
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ListStreams returns streams matching the raw query values, for example
// {"status": {"active"}, "participant": {address}}.
func (c *Client) ListStreams(ctx context.Context, query url.Values) ([]*Stream, error) {
	endpoint := "/api/v1/streams"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var records []*Stream
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// RegisterAgent registers the address as an agent. Registration is idempotent.
func (c *Client) RegisterAgent(ctx context.Context, req RegisterAgentRequest) (*Agent, error) {
	var agent Agent
	if err := c.post(ctx, "/api/v1/agents", req, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// GetAgent fetches a registered agent by address.
func (c *Client) GetAgent(ctx context.Context, address string) (*Agent, error) {
	var agent Agent
	endpoint := "/api/v1/agents/" + url.PathEscape(address)
	if err := c.get(ctx, endpoint, &agent); err != nil {
		return nil, err
	}
	return &agent, nil
}

// IsAgentRegistered reports whether the address is a registered agent.
func (c *Client) IsAgentRegistered(ctx context.Context, address string) (bool, error) {
	if _, err := c.GetAgent(ctx, address); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RegisterService publishes a priced service offering for the provider.
func (c *Client) RegisterService(ctx context.Context, provider string, req RegisterServiceRequest) (*ServiceOffering, error) {
	var offering ServiceOffering
	endpoint := "/api/v1/agents/" + url.PathEscape(provider) + "/services"
	if err := c.post(ctx, endpoint, req, &offering); err != nil {
		return nil, err
	}
	return &offering, nil
}

// FindProviders lists every provider offering the named service, cheapest
// first.
func (c *Client) FindProviders(ctx context.Context, service string) ([]*ServiceOffering, error) {
	var offerings []*ServiceOffering
	endpoint := "/api/v1/services?name=" + url.QueryEscape(service)
	if err := c.get(ctx, endpoint, &offerings); err != nil {
		return nil, err
	}
	return offerings, nil
}

// SendMessage delivers a message, optionally opening a payment stream with it.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	var resp SendMessageResponse
	if err := c.post(ctx, "/api/v1/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Inbox lists the most recent messages delivered to the address.
func (c *Client) Inbox(ctx context.Context, address string, limit int) ([]*Message, error) {
	endpoint := "/api/v1/inbox/" + url.PathEscape(address)
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	var messages []*Message
	if err := c.get(ctx, endpoint, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// AutoWithdraw polls the pair at the given interval and withdraws whatever
// has accrued, returning once the stream reaches a terminal state or the
// context is cancelled. The stored caller must be the stream recipient.
func (c *Client) AutoWithdraw(ctx context.Context, sender, recipient string, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		settled, err := c.Withdraw(ctx, sender, recipient)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				return nil
			}
			return err
		}
		if settled.Stream != nil && !settled.Stream.Active() {
			return nil
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	rawPath, rawQuery, _ := strings.Cut(endpoint, "?")
	rel := &url.URL{Path: path.Join(c.baseURL.Path, rawPath), RawQuery: rawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if caller := c.Caller(); caller != "" {
		req.Header.Set(callerHeader, caller)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
