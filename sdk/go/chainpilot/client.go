package chainpilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainPilot REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Session represents a conversation bound to a wallet and a chain.
type Session struct {
	ID        string `json:"id"`
	Wallet    string `json:"wallet"`
	Chain     string `json:"chain"`
	CreatedAt int64  `json:"created_at"`
}

// Message is one entry of the conversation log.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// Intent mirrors the server side intent representation.
type Intent struct {
	Kind     string `json:"kind"`
	Contract string `json:"contract,omitempty"`
	Method   string `json:"method"`
	Args     []Arg  `json:"args,omitempty"`
}

// Arg is a single named intent argument. Order is significant.
type Arg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Bundle is a staged batch of intents awaiting approval or already resolved.
type Bundle struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"session_id"`
	Wallet      string   `json:"wallet"`
	Description string   `json:"description"`
	Intents     []Intent `json:"intents"`
	State       string   `json:"state"`
	TxHash      string   `json:"tx_hash,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// TurnResult is the outcome of one conversation turn.
type TurnResult struct {
	Reply  Message `json:"reply"`
	Bundle *Bundle `json:"bundle,omitempty"`
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
		return fmt.Sprintf("chainpilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainpilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ChainPilot API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// CreateSession opens a new conversation bound to the given wallet and chain.
func (c *Client) CreateSession(ctx context.Context, wallet, chain string) (Session, error) {
	var session Session
	payload := map[string]string{"wallet": wallet, "chain": chain}
	if err := c.post(ctx, "/api/v1/sessions", payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// SendMessage submits one user message and returns the assistant reply plus
// any bundle staged for review.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (TurnResult, error) {
	var result TurnResult
	endpoint := fmt.Sprintf("/api/v1/sessions/%s/messages", url.PathEscape(sessionID))
	if err := c.post(ctx, endpoint, map[string]string{"text": text}, &result); err != nil {
		return TurnResult{}, err
	}
	return result, nil
}

// Messages fetches the full conversation log.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var messages []Message
	endpoint := fmt.Sprintf("/api/v1/sessions/%s/messages", url.PathEscape(sessionID))
	if err := c.get(ctx, endpoint, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// PendingBundle returns the bundle currently awaiting review, if any.
func (c *Client) PendingBundle(ctx context.Context, sessionID string) (Bundle, error) {
	var bundle Bundle
	endpoint := fmt.Sprintf("/api/v1/sessions/%s/bundle", url.PathEscape(sessionID))
	if err := c.get(ctx, endpoint, &bundle); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

// ApproveBundle approves the pending bundle, queueing it for execution.
func (c *Client) ApproveBundle(ctx context.Context, sessionID string) (Bundle, error) {
	var bundle Bundle
	endpoint := fmt.Sprintf("/api/v1/sessions/%s/bundle/approve", url.PathEscape(sessionID))
	if err := c.post(ctx, endpoint, struct{}{}, &bundle); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

// RejectBundle discards the pending bundle without any on-chain effect.
func (c *Client) RejectBundle(ctx context.Context, sessionID string) (Bundle, error) {
	var bundle Bundle
	endpoint := fmt.Sprintf("/api/v1/sessions/%s/bundle/reject", url.PathEscape(sessionID))
	if err := c.post(ctx, endpoint, struct{}{}, &bundle); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

// BundleHistory lists past bundles of the session, newest first.
func (c *Client) BundleHistory(ctx context.Context, sessionID string, limit int) ([]Bundle, error) {
	var bundles []Bundle
	endpoint := fmt.Sprintf("/api/v1/sessions/%s/bundles", url.PathEscape(sessionID))
	if limit > 0 {
		endpoint += fmt.Sprintf("?limit=%d", limit)
	}
	if err := c.get(ctx, endpoint, &bundles); err != nil {
		return nil, err
	}
	return bundles, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
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
