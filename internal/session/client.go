package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"bistro/internal/domain"
)

// ErrSessionExpired means token renewal failed or no refresh token was
// available. Credentials are cleared before it is returned; the caller has to
// re-authenticate.
var ErrSessionExpired = errors.New("session expired, sign in again")

// APIError carries a non-2xx backend response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// Client wraps all authenticated calls to the backend. On a 401 it performs
// exactly one renewal-and-retry cycle per logical call; concurrent 401s share
// a single in-flight renewal.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      *CredentialStore
	log        *logrus.Logger
	renewals   singleflight.Group
}

func NewClient(baseURL string, timeout time.Duration, creds *CredentialStore, log *logrus.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		log:        log,
	}
}

// Credentials exposes the store so that collaborators sharing the session
// (the status stream) can read the current access token.
func (c *Client) Credentials() *CredentialStore {
	return c.creds
}

// Login exchanges email/password for a fresh token pair and stores it.
// A 401 here is a bad password, never a renewal trigger.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}
	var resp domain.Credential
	if _, err := c.send(ctx, http.MethodPost, "/auth/login", body, &resp, ""); err != nil {
		return err
	}
	c.creds.Set(resp)
	return nil
}

// Logout tells the backend best-effort and always drops local credentials.
func (c *Client) Logout(ctx context.Context) {
	if cred, ok := c.creds.Get(); ok {
		if _, err := c.send(ctx, http.MethodPost, "/auth/logout", nil, nil, cred.AccessToken); err != nil {
			c.log.WithError(err).Debug("logout request failed")
		}
	}
	c.creds.Clear()
}

// Call issues an authenticated request. body and out may be nil; out is
// filled from a 2xx JSON response. Non-2xx responses come back as *APIError.
func (c *Client) Call(ctx context.Context, method, path string, body, out interface{}) error {
	cred, _ := c.creds.Get()
	status, err := c.send(ctx, method, path, body, out, cred.AccessToken)
	if status != http.StatusUnauthorized {
		return err
	}

	access, renewErr := c.renewAccessToken(ctx)
	if renewErr != nil {
		return renewErr
	}
	// One retry with the renewed token. A second 401 surfaces as-is.
	_, err = c.send(ctx, method, path, body, out, access)
	return err
}

func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Call(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Call(ctx, http.MethodPost, path, body, out)
}

// renewAccessToken exchanges the refresh token for a new access token.
// Concurrent callers are coalesced behind one renewal call; a rejected
// renewal clears the store so stale credentials cannot be reused.
//
// The renewal runs detached from the triggering caller's context. Other
// callers may be waiting on the same renewal, and one caller cancelling its
// own request must not tear down a session whose refresh token is still
// valid. The HTTP client timeout still bounds the request.
func (c *Client) renewAccessToken(ctx context.Context) (string, error) {
	renewCtx := context.WithoutCancel(ctx)
	v, err, _ := c.renewals.Do("renew", func() (interface{}, error) {
		cred, ok := c.creds.Get()
		if !ok || cred.RefreshToken == "" {
			c.creds.Clear()
			return nil, ErrSessionExpired
		}
		var resp struct {
			AccessToken string `json:"access_token"`
		}
		if _, err := c.send(renewCtx, http.MethodPost, "/auth/refresh", nil, &resp, cred.RefreshToken); err != nil {
			c.creds.Clear()
			c.log.WithError(err).Warn("token renewal failed")
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		c.creds.SetAccessToken(resp.AccessToken)
		c.log.Debug("access token renewed")
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) send(ctx context.Context, method, path string, body, out interface{}, bearer string) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, decodeAPIError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil {
		apiErr.Message = payload.Error
	}
	return apiErr
}
