// v2
// internal/identity/client.go

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"moldsense/internal/apperr"
)

// Client talks to an identitytoolkit-compatible REST endpoint. It implements
// Verifier via the accounts:lookup operation.
type Client struct {
	baseURL    string
	tokenURL   string
	apiKey     string
	httpClient *http.Client
	log        *slog.Logger
}

// ClientConfig points the Client at a provider. Empty URLs default to the
// hosted Google endpoints.
type ClientConfig struct {
	BaseURL  string
	TokenURL string
	APIKey   string
	Timeout  time.Duration
}

func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://identitytoolkit.googleapis.com"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://securetoken.googleapis.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		tokenURL:   strings.TrimSuffix(cfg.TokenURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger.With(slog.String("component", "identity_client")),
	}
}

type providerError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// post sends one JSON request and decodes the response into out. Provider
// rejections surface as unauthenticated errors carrying the provider's
// message.
func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var pe providerError
		detail := fmt.Sprintf("status %d", resp.StatusCode)
		if json.Unmarshal(raw, &pe) == nil && pe.Error.Message != "" {
			detail = pe.Error.Message
		}
		return apperr.New(apperr.KindUnauthenticated, detail)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) accountsEndpoint(op string) string {
	return fmt.Sprintf("%s/v1/accounts:%s?key=%s", c.baseURL, op, url.QueryEscape(c.apiKey))
}

type sessionResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (r sessionResponse) session() Session {
	return Session{
		UserID:       r.LocalID,
		Email:        r.Email,
		IDToken:      r.IDToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
	}
}

// SignUp registers a new account and returns its first session.
func (c *Client) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	var resp sessionResponse
	err := c.post(ctx, c.accountsEndpoint("signUp"), map[string]any{
		"email":             email,
		"password":          password,
		"displayName":       name,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return Session{}, err
	}
	c.log.Info("account_created", slog.String("uid", resp.LocalID))
	return resp.session(), nil
}

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var resp sessionResponse
	err := c.post(ctx, c.accountsEndpoint("signInWithPassword"), map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return Session{}, err
	}
	return resp.session(), nil
}

// Refresh exchanges a refresh token for a fresh ID token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	endpoint := fmt.Sprintf("%s/v1/token?key=%s", c.tokenURL, url.QueryEscape(c.apiKey))
	var resp struct {
		UserID       string `json:"user_id"`
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	err := c.post(ctx, endpoint, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}, &resp)
	if err != nil {
		return Session{}, err
	}
	return Session{
		UserID:       resp.UserID,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}, nil
}

// Verify implements Verifier by resolving the token's account.
func (c *Client) Verify(ctx context.Context, idToken string) (Principal, error) {
	var resp struct {
		Users []struct {
			LocalID     string `json:"localId"`
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"users"`
	}
	err := c.post(ctx, c.accountsEndpoint("lookup"), map[string]string{
		"idToken": idToken,
	}, &resp)
	if err != nil {
		return Principal{}, err
	}
	if len(resp.Users) == 0 {
		return Principal{}, apperr.New(apperr.KindUnauthenticated, "token resolves to no account")
	}
	u := resp.Users[0]
	return Principal{UserID: u.LocalID, Email: u.Email, Name: u.DisplayName}, nil
}
