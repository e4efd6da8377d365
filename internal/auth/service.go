// Package auth is the client side of the pairing and token protocol.
//
// A device becomes authenticated in three server calls: request a pairing
// code, poll its status until the user confirms it on a trusted surface,
// then exchange the confirmed code for a token pair. Tokens rotate on
// refresh; a rejected refresh token ends the session for good.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/haloview/haloview-go/internal/identity"
	"github.com/haloview/haloview-go/internal/keystore"
	"github.com/haloview/haloview-go/internal/transport"
)

const (
	pairPath     = "/api/v1/mobile/auth/pair"
	statusPath   = "/api/v1/mobile/auth/status/"
	exchangePath = "/api/v1/mobile/auth/exchange"
	refreshPath  = "/api/v1/mobile/auth/refresh"

	// refreshMargin is the safety window: a refresh is due once less than
	// this remains before access token expiry.
	refreshMargin = 5 * time.Minute
)

// PairingCode is a pairing session issued by the server.
type PairingCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PairingStatus is the server's answer to a status poll.
type PairingStatus struct {
	Confirmed bool `json:"confirmed"`
	Expired   bool `json:"expired"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	DeviceName   string `json:"device_name,omitempty"`
}

// Service orchestrates the pairing protocol against the transport client
// and the credential store.
type Service struct {
	client *transport.Client
	creds  *keystore.CredentialStore
	ident  *identity.Manager

	// refreshGroup serializes token rotation: a scheduled refresh and an
	// explicit one share a single in-flight exchange and its outcome.
	refreshGroup singleflight.Group

	margin time.Duration
	now    func() time.Time
}

// NewService creates the auth service.
func NewService(client *transport.Client, creds *keystore.CredentialStore, ident *identity.Manager) *Service {
	return &Service{
		client: client,
		creds:  creds,
		ident:  ident,
		margin: refreshMargin,
		now:    time.Now,
	}
}

// IsAuthenticated reports whether a token pair is stored. Presence, not
// freshness: a stale token is refreshed on demand.
func (s *Service) IsAuthenticated() bool {
	return s.creds.IsAuthenticated()
}

// AccessToken returns the stored access token, or "".
func (s *Service) AccessToken() string {
	return s.creds.AccessToken()
}

// GeneratePairingCode asks the server for a new short-lived pairing code,
// sending the device identity so the user can recognize the device when
// confirming.
func (s *Service) GeneratePairingCode(ctx context.Context) (*PairingCode, error) {
	id, err := s.ident.Get()
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Err: err}
	}

	res, err := s.client.Do(ctx, http.MethodPost, pairPath, id)
	if err != nil {
		return nil, classifyTransport(err)
	}

	switch {
	case res.Status == http.StatusOK || res.Status == http.StatusCreated:
		var code PairingCode
		if err := res.Decode(&code); err != nil {
			return nil, &Error{Kind: KindInvalidResponse, Err: err}
		}
		slog.Info("pairing code generated", "code", code.Code, "expires_at", code.ExpiresAt)
		return &code, nil
	case res.Status == http.StatusTooManyRequests:
		return nil, ErrKind(KindRateLimited)
	default:
		return nil, &Error{Kind: KindServerError, Detail: res.Detail()}
	}
}

// CheckPairingStatus polls whether the user has confirmed the code.
func (s *Service) CheckPairingStatus(ctx context.Context, code string) (*PairingStatus, error) {
	res, err := s.client.Do(ctx, http.MethodGet, statusPath+code, nil)
	if err != nil {
		return nil, classifyTransport(err)
	}

	switch res.Status {
	case http.StatusOK:
		var status PairingStatus
		if err := res.Decode(&status); err != nil {
			return nil, &Error{Kind: KindInvalidResponse, Err: err}
		}
		return &status, nil
	case http.StatusNotFound:
		return nil, ErrKind(KindInvalidCode)
	case http.StatusTooManyRequests:
		return nil, ErrKind(KindRateLimited)
	default:
		return nil, &Error{Kind: KindServerError, Detail: res.Detail()}
	}
}

// ExchangeCodeForTokens redeems a confirmed code for a token pair and
// persists it. On success the device is authenticated.
func (s *Service) ExchangeCodeForTokens(ctx context.Context, code string) error {
	id, err := s.ident.Get()
	if err != nil {
		return &Error{Kind: KindInvalidResponse, Err: err}
	}

	body := map[string]string{"code": code, "device_id": id.DeviceID}
	res, err := s.client.Do(ctx, http.MethodPost, exchangePath, body)
	if err != nil {
		return classifyTransport(err)
	}

	switch res.Status {
	case http.StatusOK:
		return s.storeTokens(res)
	case http.StatusBadRequest:
		return ErrKind(KindCodeNotConfirmed)
	case http.StatusUnauthorized, http.StatusNotFound:
		return ErrKind(KindInvalidCode)
	case http.StatusTooManyRequests:
		return ErrKind(KindRateLimited)
	default:
		return &Error{Kind: KindServerError, Detail: res.Detail()}
	}
}

// RefreshTokenIfNeeded rotates the token pair when the access token is
// close to expiry. No-op while plenty of lifetime remains.
func (s *Service) RefreshTokenIfNeeded(ctx context.Context) error {
	creds, err := s.creds.Load()
	if errors.Is(err, keystore.ErrNotFound) {
		return ErrKind(KindNotAuthenticated)
	}
	if err != nil {
		return &Error{Kind: KindInvalidResponse, Err: err}
	}

	if creds.Remaining(s.now()) > s.margin {
		return nil
	}
	return s.RefreshToken(ctx, creds.RefreshToken)
}

// RefreshToken exchanges a refresh token for a new pair. The new refresh
// token supersedes the old one; the server invalidates it and it must not
// be reused. A 401 means the session is gone: credentials are cleared and
// the device must pair again.
//
// Concurrent callers (a scheduled refresh racing an explicit one) share a
// single in-flight exchange.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		return nil, s.doRefresh(ctx, refreshToken)
	})
	return err
}

func (s *Service) doRefresh(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return ErrKind(KindNotAuthenticated)
	}

	id, err := s.ident.Get()
	if err != nil {
		return &Error{Kind: KindInvalidResponse, Err: err}
	}

	body := map[string]string{"refresh_token": refreshToken, "device_id": id.DeviceID}
	res, err := s.client.Do(ctx, http.MethodPost, refreshPath, body)
	if err != nil {
		return classifyTransport(err)
	}

	switch res.Status {
	case http.StatusOK:
		if err := s.storeTokens(res); err != nil {
			return err
		}
		slog.Info("token pair rotated")
		return nil
	case http.StatusUnauthorized:
		// The refresh token is dead. Holding on to the rest of the
		// pair would only produce 401s, so clear everything.
		if err := s.creds.Clear(); err != nil {
			slog.Warn("credential clear failed after rejected refresh", "error", err)
		}
		slog.Info("session expired, credentials cleared")
		return ErrKind(KindSessionExpired)
	default:
		return &Error{Kind: KindServerError, Detail: res.Detail()}
	}
}

// Logout clears all stored credentials. Always succeeds: a logout that
// cannot fail is worth more than telling the user their tokens were
// already gone.
func (s *Service) Logout() error {
	if err := s.creds.Clear(); err != nil {
		slog.Warn("credential clear failed on logout", "error", err)
	}
	slog.Info("logged out")
	return nil
}

func (s *Service) storeTokens(res *transport.Result) error {
	var tok tokenResponse
	if err := res.Decode(&tok); err != nil {
		return &Error{Kind: KindInvalidResponse, Err: err}
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("token payload missing fields")}
	}

	if err := s.creds.Save(tok.AccessToken, tok.RefreshToken, time.Duration(tok.ExpiresIn)*time.Second); err != nil {
		return &Error{Kind: KindInvalidResponse, Err: err}
	}

	if tok.DeviceName != "" {
		if err := s.ident.SetDeviceName(tok.DeviceName); err != nil {
			slog.Warn("device name update failed", "error", err)
		}
	}
	return nil
}

// classifyTransport maps a transport failure into the taxonomy.
func classifyTransport(err error) error {
	if errors.Is(err, transport.ErrInvalidURL) {
		return &Error{Kind: KindInvalidURL, Err: err}
	}
	return &Error{Kind: KindNetworkError, Err: err}
}
