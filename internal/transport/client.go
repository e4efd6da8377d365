// Package transport performs HTTP requests against the resolved server.
//
// It owns the TLS trust policy (strict by default; an explicit opt-in
// accepts a self-signed certificate from a local server), the request
// timeout, the snake_case JSON wire convention, and client-side pacing so
// a busy poll loop cannot hammer the server.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidURL marks a request whose URL could not be constructed.
// Should never surface in practice; kept distinct so callers can tell a
// construction defect from a network failure.
var ErrInvalidURL = errors.New("invalid request URL")

const defaultTimeout = 15 * time.Second

// Options configures a Client.
type Options struct {
	// SkipTLSVerify reports whether to accept a self-signed server
	// certificate. Re-read on every request so a config change takes
	// effect without rebuilding the client. Only wired to the persisted,
	// user-visible opt-in flag; nil means never.
	SkipTLSVerify func() bool
	// Timeout bounds each request. Zero means 15s.
	Timeout time.Duration
	// RequestsPerSecond paces outgoing requests. Zero means 5 rps.
	RequestsPerSecond float64
}

// Client is the HTTP client all API calls go through. The base URL and the
// TLS trust policy are both re-resolved on every request.
type Client struct {
	http    *http.Client
	baseURL func() string
	limiter *rate.Limiter
}

// NewClient creates a client over the given base URL source.
func NewClient(baseURL func() string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 5
	}
	skip := opts.SkipTLSVerify
	if skip == nil {
		skip = func() bool { return false }
	}

	strict := http.DefaultTransport.(*http.Transport).Clone()
	lax := http.DefaultTransport.(*http.Transport).Clone()
	lax.TLSClientConfig = selfSignedTrustConfig()

	tr := &policyTripper{skip: skip, strict: strict, lax: lax}
	return &Client{
		http:    &http.Client{Transport: tr, Timeout: opts.Timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 5),
	}
}

// policyTripper routes each request through the strict or the self-signed
// trust policy, consulting the flag at request time.
type policyTripper struct {
	skip   func() bool
	strict *http.Transport
	lax    *http.Transport
}

func (p *policyTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if p.skip() {
		return p.lax.RoundTrip(req)
	}
	return p.strict.RoundTrip(req)
}

// Result is a completed HTTP exchange. Present whenever the server answered
// at all; transport-level failures return an error instead.
type Result struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *Result) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the response body into out.
func (r *Result) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response (status %d): %w", r.Status, err)
	}
	return nil
}

// Detail extracts the server-provided detail message from an error body,
// or "" if none is present.
func (r *Result) Detail() string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(r.Body, &body); err != nil {
		return ""
	}
	return body.Detail
}

// Do sends an unauthenticated JSON request.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Result, error) {
	return c.do(ctx, method, path, "", body)
}

// DoAuthed sends a JSON request with a bearer token.
func (c *Client) DoAuthed(ctx context.Context, method, path, token string, body any) (*Result, error) {
	return c.do(ctx, method, path, token, body)
}

func (c *Client) do(ctx context.Context, method, path, token string, body any) (*Result, error) {
	base := c.baseURL()
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, base)
	}
	u = u.JoinPath(path)

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Result{Status: resp.StatusCode, Body: data}, nil
}

// Reachable probes the health endpoint. Any HTTP answer up to 499 counts:
// a 404 still proves a listening server even when the path is absent.
// Preserved intentionally over tighter semantics.
func (c *Client) Reachable(ctx context.Context) bool {
	res, err := c.Do(ctx, http.MethodGet, "/api/v1/mobile/health", nil)
	if err != nil {
		return false
	}
	return res.Status >= 200 && res.Status < 500
}

// selfSignedTrustConfig builds the escape-hatch trust policy for local
// servers: the presented certificate must still parse as valid X.509 and be
// within its validity window, but no chain to a known CA is required.
func selfSignedTrustConfig() *tls.Config {
	return &tls.Config{
		// Verification is replaced, not removed: VerifyPeerCertificate
		// below runs on every handshake.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return errors.New("server presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return fmt.Errorf("parse server certificate: %w", err)
			}
			now := time.Now()
			if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
				return fmt.Errorf("server certificate outside validity window (%s - %s)",
					cert.NotBefore.Format(time.RFC3339), cert.NotAfter.Format(time.RFC3339))
			}
			return nil
		},
	}
}
