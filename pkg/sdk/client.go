// Package sdk provides the client-side library for the records backend.
// It offers the same query contract whether records are fetched page by page
// from the backend (direct mode) or imported once and served from memory
// (import mode).
package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// Backend endpoints.
const (
	recordsPath       = "/api/records/"
	exportPath        = "/api/records/export/"
	batchesPath       = "/api/batches/"
	relationshipsPath = "/api/relationships/"
	statsPath         = "/api/dashboard-stats/"
	healthPath        = "/healthz"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

// Config holds client configuration.
type Config struct {
	BaseURL            string
	Token              string
	AuthScheme         string        // "Token" (default) or "Bearer"
	Timeout            time.Duration // per request, except Export
	InsecureSkipVerify bool          // accept the daemon's self-signed certificate
	HTTPClient         *http.Client  // optional, overrides the transport settings above
}

// Client talks to the records backend over HTTP. It is the remote query
// executor and the mutation path. It never retries.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	scheme     string
	timeout    time.Duration

	mu    sync.RWMutex // Protects token
	token string
}

// NewClient creates a client for the backend at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", cfg.BaseURL)
	}
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Token"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: cfg.InsecureSkipVerify, // self-signed daemon certificate
				},
			},
		}
	}

	return &Client{
		base:       base,
		httpClient: hc,
		scheme:     cfg.AuthScheme,
		timeout:    cfg.Timeout,
		token:      cfg.Token,
	}, nil
}

// SetToken replaces the credential. An empty token makes every call fail
// with an AuthError before any request is sent.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// applyAuth adds the credential header, or fails if none is set.
func (c *Client) applyAuth(req *http.Request) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return &AuthError{Message: "no credential set"}
	}
	req.Header.Set("Authorization", c.scheme+" "+c.token)
	return nil
}

func (c *Client) endpoint(path string) *url.URL {
	return c.base.ResolveReference(&url.URL{Path: strings.TrimRight(c.base.Path, "/") + path})
}

// resolve turns a server cursor into an absolute URL. Absolute cursors are
// used verbatim.
func (c *Client) resolve(token schema.Token) (string, error) {
	u, err := url.Parse(string(token))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c.base.ResolveReference(u).String(), nil
}

// Query fetches one page of records. A non-empty token is used verbatim as
// the request target and params are ignored, so paging keeps the server's
// filter and ordering state.
func (c *Client) Query(ctx context.Context, params filter.Params, token schema.Token) (schema.Page, error) {
	var target string
	if token != "" {
		t, err := c.resolve(token)
		if err != nil {
			return schema.Page{}, err
		}
		target = t
	} else {
		if err := params.Validate(); err != nil {
			return schema.Page{}, err
		}
		u := c.endpoint(recordsPath)
		u.RawQuery = params.Values().Encode()
		target = u.String()
	}

	var resp schema.ListResponse
	if err := c.doJSON(ctx, http.MethodGet, target, nil, &resp); err != nil {
		return schema.Page{}, err
	}

	page := schema.Page{Items: resp.Results, Count: resp.Count}
	if page.Items == nil {
		page.Items = []schema.Record{}
	}
	if resp.Next != nil {
		page.Next = schema.Token(*resp.Next)
	}
	if resp.Previous != nil {
		page.Previous = schema.Token(*resp.Previous)
	}
	logging.Debug("remote query",
		zap.String("target", target),
		zap.Int("items", len(page.Items)),
		zap.Int("count", page.Count))
	return page, nil
}

// Export opens the bulk export stream. size is the announced Content-Length,
// or -1. The caller must close body. No timeout applies beyond ctx.
func (c *Client) Export(ctx context.Context) (io.ReadCloser, int64, error) {
	target := c.endpoint(exportPath).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	if err := c.applyAuth(req); err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	// Transparent gzip would hide the byte length progress is measured against.
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &NetworkError{Op: http.MethodGet, URL: target, Err: err}
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}

// CreateRecord creates a record and returns it as stored.
func (c *Client) CreateRecord(ctx context.Context, r schema.Record) (schema.Record, error) {
	var out schema.Record
	err := c.doJSON(ctx, http.MethodPost, c.endpoint(recordsPath).String(), r, &out)
	return out, err
}

// UpdateRecord replaces the record identified by r.ID.
func (c *Client) UpdateRecord(ctx context.Context, r schema.Record) (schema.Record, error) {
	if r.ID.IsZero() {
		return schema.Record{}, fmt.Errorf("update record: missing id")
	}
	var out schema.Record
	target := c.endpoint(recordsPath + url.PathEscape(string(r.ID)) + "/").String()
	err := c.doJSON(ctx, http.MethodPut, target, r, &out)
	return out, err
}

// AddRelationship links two records.
func (c *Client) AddRelationship(ctx context.Context, rel schema.Relationship) (schema.Relationship, error) {
	var out schema.Relationship
	err := c.doJSON(ctx, http.MethodPost, c.endpoint(relationshipsPath).String(), rel, &out)
	return out, err
}

// RemoveRelationship deletes a relationship.
func (c *Client) RemoveRelationship(ctx context.Context, id schema.ID) error {
	target := c.endpoint(relationshipsPath + url.PathEscape(string(id)) + "/").String()
	return c.doJSON(ctx, http.MethodDelete, target, nil, nil)
}

// Batches lists every batch, newest first.
func (c *Client) Batches(ctx context.Context) ([]schema.Batch, error) {
	var out []schema.Batch
	err := c.doJSON(ctx, http.MethodGet, c.endpoint(batchesPath).String(), nil, &out)
	return out, err
}

// CreateBatch creates a batch.
func (c *Client) CreateBatch(ctx context.Context, name string) (schema.Batch, error) {
	var out schema.Batch
	err := c.doJSON(ctx, http.MethodPost, c.endpoint(batchesPath).String(), schema.Batch{Name: name}, &out)
	return out, err
}

// Stats returns the dashboard statistics.
func (c *Client) Stats(ctx context.Context) (schema.Stats, error) {
	var out schema.Stats
	err := c.doJSON(ctx, http.MethodGet, c.endpoint(statsPath).String(), nil, &out)
	return out, err
}

// Ping checks that the backend is reachable. It needs no credential.
func (c *Client) Ping(ctx context.Context) error {
	target := c.endpoint(healthPath).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: http.MethodGet, URL: target, Err: err}
	}
	defer resp.Body.Close()
	return checkResponse(resp)
}

// doJSON performs an authenticated JSON round trip. in and out may be nil.
func (c *Client) doJSON(ctx context.Context, method, target string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if err := c.applyAuth(req); err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, target, err)
	}
	return nil
}

// checkResponse maps a non-2xx response onto AuthError or ServerError.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg, fields := parseErrorBody(raw)
	if msg == "" && len(fields) == 0 {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Status: resp.StatusCode, Message: msg}
	}
	return &ServerError{Status: resp.StatusCode, Message: msg, Fields: fields}
}

// parseErrorBody understands {"detail": "..."}, {"non_field_errors": [...]}
// and {"field": ["msg", ...]}. Anything else is returned as plain text.
func parseErrorBody(raw []byte) (string, map[string][]string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw), nil
	}

	var msg string
	fields := make(map[string][]string)
	for key, val := range obj {
		msgs := decodeMessages(val)
		switch key {
		case "detail", "error":
			msg = strings.Join(msgs, " ")
		case "non_field_errors":
			if msg == "" {
				msg = strings.Join(msgs, " ")
			}
		default:
			fields[key] = msgs
		}
	}
	if len(fields) == 0 {
		fields = nil
	}
	return msg, fields
}

func decodeMessages(val json.RawMessage) []string {
	var list []string
	if err := json.Unmarshal(val, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(val, &single); err == nil {
		return []string{single}
	}
	return []string{string(val)}
}
