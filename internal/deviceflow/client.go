package deviceflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kimibroker/pkg/logging"
	"kimibroker/pkg/oauth"
)

const (
	// DefaultHTTPTimeout is the default timeout for a single HTTP request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultTokenLifetime applies when the server omits expires_in.
	DefaultTokenLifetime = time.Hour

	// defaultPollAttempts bounds the poll loop when the server does not say
	// how long the device code lives.
	defaultPollAttempts = 120

	// minPollInterval is the floor for the server-dictated polling period.
	minPollInterval = 1

	// slowDownIncrement is added to the polling interval on a slow_down
	// response, per RFC 8628 section 3.5.
	slowDownIncrement = 5

	// deviceCodeGrantType is the RFC 8628 grant type identifier.
	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
)

// Client performs the three OAuth device-flow operations: request device
// authorization, poll for the token, and refresh an access token.
type Client struct {
	clientID   string
	deviceURL  string
	tokenURL   string
	httpClient *http.Client

	// sleep waits between poll attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientOption configures the device flow client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a device flow client for the given OAuth client identity
// and endpoints.
func NewClient(clientID, deviceAuthorizationURL, tokenURL string, opts ...ClientOption) *Client {
	c := &Client{
		clientID:   clientID,
		deviceURL:  deviceAuthorizationURL,
		tokenURL:   tokenURL,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		sleep:      sleepInterval,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RequestDeviceAuthorization starts a device grant: it asks the server for a
// user code and device code pair.
func (c *Client) RequestDeviceAuthorization(ctx context.Context) (*DeviceAuthorization, error) {
	data := url.Values{
		"client_id": {c.clientID},
	}

	status, body, err := c.postForm(ctx, c.deviceURL, data)
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}

	if status < 200 || status >= 300 {
		return nil, &AuthorizationRequestError{StatusCode: status, Body: string(body)}
	}

	var resp deviceAuthorizationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse device authorization response: %w", err)
	}

	interval := int64(resp.Interval)
	if interval < minPollInterval {
		interval = minPollInterval
	}

	auth := &DeviceAuthorization{
		UserCode:                resp.UserCode,
		DeviceCode:              resp.DeviceCode,
		VerificationURI:         resp.VerificationURI,
		VerificationURIComplete: resp.VerificationURIComplete,
		ExpiresIn:               int64(resp.ExpiresIn),
		Interval:                interval,
	}

	logging.Debug("DeviceFlow", "Device authorization issued (user_code=%s, interval=%ds, expires_in=%ds)",
		auth.UserCode, auth.Interval, auth.ExpiresIn)

	return auth, nil
}

// PollForToken polls the token endpoint until the user completes
// authorization in their browser.
//
// Each attempt sleeps the server-dictated interval first, then posts the
// device-code grant. The attempt budget is expires_in / interval when the
// server stated a validity window, otherwise a bounded default. A slow_down
// response widens the interval for the remaining attempts. Only expired_token
// terminates early; every other pending or error response consumes one
// attempt and keeps polling.
func (c *Client) PollForToken(ctx context.Context, auth *DeviceAuthorization) (*oauth.Token, error) {
	interval := auth.Interval
	if interval < minPollInterval {
		interval = minPollInterval
	}

	attempts := defaultPollAttempts
	if auth.ExpiresIn > 0 {
		attempts = int(auth.ExpiresIn / interval)
		if attempts < 1 {
			attempts = 1
		}
	}

	data := url.Values{
		"client_id":   {c.clientID},
		"device_code": {auth.DeviceCode},
		"grant_type":  {deviceCodeGrantType},
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.sleep(ctx, time.Duration(interval)*time.Second); err != nil {
			return nil, err
		}

		status, body, err := c.postForm(ctx, c.tokenURL, data)
		if err != nil {
			// Transport errors (server unreachable, timeout) consume an
			// attempt like a pending response does.
			logging.Debug("DeviceFlow", "Token poll attempt %d/%d failed: %v", attempt, attempts, err)
			continue
		}

		var resp tokenResponse
		if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil {
			logging.Debug("DeviceFlow", "Token poll attempt %d/%d returned unparseable body (status %d)",
				attempt, attempts, status)
			continue
		}

		if resp.AccessToken != "" {
			logging.Info("DeviceFlow", "Device authorization completed after %d attempt(s)", attempt)
			return oauth.NewToken(resp.AccessToken, resp.RefreshToken, resp.TokenType, resp.Scope,
				int64(resp.ExpiresIn), DefaultTokenLifetime), nil
		}

		switch resp.ErrorCode {
		case "expired_token":
			return nil, &DeviceCodeExpiredError{}
		case "slow_down":
			interval += slowDownIncrement
			logging.Debug("DeviceFlow", "Server requested slow down, polling every %ds now", interval)
		case "authorization_pending":
			// Keep polling.
		default:
			logging.Debug("DeviceFlow", "Token poll attempt %d/%d pending (status %d, error=%s)",
				attempt, attempts, status, resp.ErrorCode)
		}
	}

	return nil, &LoginTimeoutError{Attempts: attempts}
}

// RefreshAccessToken exchanges a refresh token for a new token pair.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth.Token, error) {
	data := url.Values{
		"client_id":     {c.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	status, body, err := c.postForm(ctx, c.tokenURL, data)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}

	var resp tokenResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil && status >= 200 && status < 300 {
		return nil, fmt.Errorf("failed to parse token refresh response: %w", jsonErr)
	}

	if status < 200 || status >= 300 || resp.AccessToken == "" {
		return nil, &TokenRefreshError{
			StatusCode:  status,
			ErrorCode:   resp.ErrorCode,
			Description: resp.ErrorDescription,
		}
	}

	logging.Debug("DeviceFlow", "Access token refreshed (expires_in=%ds)", int64(resp.ExpiresIn))

	return oauth.NewToken(resp.AccessToken, resp.RefreshToken, resp.TokenType, resp.Scope,
		int64(resp.ExpiresIn), DefaultTokenLifetime), nil
}

// postForm posts form-encoded values and returns the status code and full
// response body.
func (c *Client) postForm(ctx context.Context, endpoint string, data url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

// sleepInterval waits for the polling interval, aborting early when the
// caller abandons the login attempt.
func sleepInterval(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
