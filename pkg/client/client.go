package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	apiPrefix = "/api/v1"

	defaultMaxResponse = 32 << 20
)

// Record mirrors a ledger record as served by the API.
type Record struct {
	ID        string          `json:"id"`
	Sequence  int64           `json:"sequence"`
	Data      json.RawMessage `json:"data"`
	Hash      string          `json:"hash"`
	Signature string          `json:"signature"`
	VerifyKey string          `json:"verify_key"`
	PrevHash  string          `json:"prev_hash"`
	Timestamp float64         `json:"timestamp"`
}

// Report is the body of GET /integrity.
type Report struct {
	Intact     bool   `json:"integrity"`
	Message    string `json:"message"`
	Kind       string `json:"kind,omitempty"`
	Records    int64  `json:"records"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// ListOptions narrows List. Type and Identifier are mutually exclusive.
type ListOptions struct {
	Type       string
	Identifier string
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
	Kind       string `json:"kind"`
	Class      string `json:"class"`
	// Record is set when the server stored a record but could not finish the
	// request, e.g. when the checkpoint write failed after an append.
	Record *Record `json:"record,omitempty"`
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("docchain: %d %s: %s", e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("docchain: %d: %s", e.StatusCode, e.Message)
}

// IsIntegrity reports whether the server refused because the chain failed
// verification, as opposed to bad input or an outage.
func (e *APIError) IsIntegrity() bool {
	return e.Kind == "ChainNotTrusted" || e.Kind == "IntegrityFailure"
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool { return e.StatusCode == http.StatusServiceUnavailable }

// Client talks to a docchain server.
type Client struct {
	base        string
	httpClient  *http.Client
	bearerToken string
	maxResponse int64
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches an access token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithMaxResponseBytes caps how much of a response body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("max response bytes must be positive, got %d", n)
		}
		c.maxResponse = n
		return nil
	}
}

// New creates a Client for the server at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", base)
	}
	c := &Client{
		base:        strings.TrimRight(base, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxResponse: defaultMaxResponse,
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Append records doc. A json.RawMessage or []byte is sent as-is; any other
// value is marshalled first.
func (c *Client) Append(ctx context.Context, doc any) (*Record, error) {
	var rec Record
	if err := c.post(ctx, "/records", doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Genesis creates the first record of an empty ledger.
func (c *Client) Genesis(ctx context.Context, doc any) (*Record, error) {
	var rec Record
	if err := c.post(ctx, "/genesis", doc, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records in ascending sequence order.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	q := url.Values{}
	if opts.Type != "" {
		q.Set("type", opts.Type)
	}
	if opts.Identifier != "" {
		q.Set("identifier", opts.Identifier)
	}
	path := "/records"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var payload struct {
		Records []Record `json:"records"`
	}
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Records, nil
}

// Export returns every stored record without server-side verification.
// It requires an admin token when auth is enabled.
func (c *Client) Export(ctx context.Context) ([]Record, error) {
	var payload struct {
		Records []Record `json:"records"`
	}
	if err := c.get(ctx, "/export", &payload); err != nil {
		return nil, err
	}
	return payload.Records, nil
}

// Latest returns the newest record.
func (c *Client) Latest(ctx context.Context) (*Record, error) {
	var rec Record
	if err := c.get(ctx, "/records/latest", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns the record with the given UUID.
func (c *Client) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	if err := c.get(ctx, "/records/"+url.PathEscape(id), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetBySequence returns the record at seq.
func (c *Client) GetBySequence(ctx context.Context, seq int64) (*Record, error) {
	var rec Record
	if err := c.get(ctx, "/records/seq/"+strconv.FormatInt(seq, 10), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Integrity asks the server to verify the chain. A compromised chain is a
// successful call with Intact == false.
func (c *Client) Integrity(ctx context.Context) (*Report, error) {
	var r Report
	if err := c.get(ctx, "/integrity", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+apiPrefix+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, doc, out any) error {
	var body []byte
	switch v := doc.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		body = v
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}
		body = b
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+apiPrefix+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
