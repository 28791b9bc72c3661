package external

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

	"github.com/google/uuid"
	"github.com/kjannette/p2p-trade-client/internal/auth"
	"github.com/kjannette/p2p-trade-client/internal/logging"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL   = "http://localhost:3000"
	maxErrorBodySize = 4 << 10
	maxBodySize      = 10 << 20
)

// BackendClient is a typed binding to the P2P trading backend's REST API.
// It does not cache, dedupe or retry; every call goes to the network.
//
// A BackendClient is immutable once built. WithCredential returns a copy
// bound to a bearer credential, so no call ever depends on shared header
// state set elsewhere.
type BackendClient struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	cred         *auth.Credential
	log          zerolog.Logger
}

type Option func(*BackendClient)

// WithHTTPClient replaces the client used for regular calls. Event streams
// reuse its transport without the timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *BackendClient) {
		c.httpClient = hc
		c.streamClient = &http.Client{Transport: hc.Transport}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *BackendClient) {
		c.httpClient = &http.Client{Timeout: d, Transport: c.httpClient.Transport}
	}
}

func NewBackendClient(baseURL string, opts ...Option) *BackendClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &BackendClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		streamClient: &http.Client{},
		log:          logging.Component("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCredential returns a copy of c that authenticates as cred.
func (c *BackendClient) WithCredential(cred auth.Credential) *BackendClient {
	cp := *c
	cp.cred = &cred
	return &cp
}

// Authenticated reports whether the client carries a credential.
func (c *BackendClient) Authenticated() bool {
	return c.cred != nil && c.cred.Token != ""
}

func (c *BackendClient) BaseURL() string { return c.baseURL }

type call struct {
	method    string
	path      string
	query     url.Values
	body      any
	protected bool
}

func (c *BackendClient) do(ctx context.Context, req call, out any) error {
	op := req.method + " " + req.path

	if req.protected && !c.Authenticated() {
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	c.setHeaders(httpReq)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	c.log.Debug().Str("method", req.method).Str("path", req.path).
		Str("request_id", httpReq.Header.Get("X-Request-ID")).Msg("api request")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("api network error")
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("api response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		c.log.Error().Str("op", op).Int("status", resp.StatusCode).Msg("api error")
		return &HTTPError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ParseError{Op: op, Err: err}
	}
	return nil
}

func (c *BackendClient) setHeaders(r *http.Request) {
	r.Header.Set("X-Request-ID", uuid.NewString())
	if c.Authenticated() {
		r.Header.Set("Authorization", c.cred.Header())
	}
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
