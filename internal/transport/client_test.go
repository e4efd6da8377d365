package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(url string) *Client {
	return NewClient(func() string { return url }, Options{RequestsPerSecond: 1000})
}

func TestDo_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/mobile/auth/pair" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"code":"123456"}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Do(context.Background(), http.MethodPost,
		"/api/v1/mobile/auth/pair", map[string]string{"device_id": "d1"})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !res.OK() || res.Status != http.StatusCreated {
		t.Errorf("status = %d", res.Status)
	}

	var out struct {
		Code string `json:"code"`
	}
	if err := res.Decode(&out); err != nil || out.Code != "123456" {
		t.Errorf("decode = (%+v, %v)", out, err)
	}
}

func TestDo_InvalidBaseURL(t *testing.T) {
	c := NewClient(func() string { return "://not-a-url" }, Options{})
	_, err := c.Do(context.Background(), http.MethodGet, "/x", nil)
	if !errors.Is(err, ErrInvalidURL) {
		t.Errorf("err = %v, want ErrInvalidURL", err)
	}
}

func TestDo_BearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("authorization = %q", got)
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).DoAuthed(context.Background(), http.MethodGet,
		"/api/v1/mobile/cameras", "tok-1", nil); err != nil {
		t.Fatalf("DoAuthed failed: %v", err)
	}
}

func TestDetail_Extraction(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"present", `{"detail":"device limit reached"}`, "device limit reached"},
		{"absent", `{"error":"nope"}`, ""},
		{"not_json", `<html>oops</html>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Result{Status: 500, Body: []byte(tt.body)}
			if got := r.Detail(); got != tt.want {
				t.Errorf("Detail() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReachable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", 200, true},
		{"not_found_still_reachable", 404, true},
		{"client_error_reachable", 429, true},
		{"server_error_unreachable", 500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			if got := newTestClient(srv.URL).Reachable(context.Background()); got != tt.want {
				t.Errorf("Reachable() with %d = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestReachable_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	if newTestClient(srv.URL).Reachable(context.Background()) {
		t.Error("Reachable() = true against closed server")
	}
}

func TestSelfSignedTrust(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// Strict policy must reject the test server's self-signed cert.
	strict := NewClient(func() string { return srv.URL }, Options{RequestsPerSecond: 1000})
	if _, err := strict.Do(context.Background(), http.MethodGet, "/", nil); err == nil {
		t.Error("strict client accepted a self-signed certificate")
	}

	// Opt-in policy accepts it.
	lax := NewClient(func() string { return srv.URL },
		Options{SkipTLSVerify: func() bool { return true }, RequestsPerSecond: 1000})
	res, err := lax.Do(context.Background(), http.MethodGet, "/", nil)
	if err != nil {
		t.Fatalf("opt-in client rejected self-signed certificate: %v", err)
	}
	if !res.OK() {
		t.Errorf("status = %d", res.Status)
	}
}

func TestSelfSignedTrust_FollowsFlagAtRequestTime(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var skip atomic.Bool
	c := NewClient(func() string { return srv.URL },
		Options{SkipTLSVerify: skip.Load, RequestsPerSecond: 1000})

	if _, err := c.Do(context.Background(), http.MethodGet, "/", nil); err == nil {
		t.Error("accepted a self-signed certificate before opt-in")
	}

	// Flipping the flag takes effect on the same client, no rebuild.
	skip.Store(true)
	res, err := c.Do(context.Background(), http.MethodGet, "/", nil)
	if err != nil {
		t.Fatalf("rejected self-signed certificate after opt-in: %v", err)
	}
	if !res.OK() {
		t.Errorf("status = %d", res.Status)
	}

	skip.Store(false)
	if _, err := c.Do(context.Background(), http.MethodGet, "/", nil); err == nil {
		t.Error("accepted a self-signed certificate after opt-out")
	}
}
