package deviceflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient builds a client against a test server with sleeps recorded
// instead of performed.
func newTestClient(serverURL string, sleeps *[]time.Duration) *Client {
	c := NewClient("test-client", serverURL+"/device", serverURL+"/token")
	c.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		*sleeps = append(*sleeps, d)
		return nil
	}
	return c
}

func TestRequestDeviceAuthorization_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/device", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-client", r.Form.Get("client_id"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"user_code": "ABCD-1234",
			"device_code": "device-code-value",
			"verification_uri": "https://auth.example.com/activate",
			"verification_uri_complete": "https://auth.example.com/activate?user_code=ABCD-1234",
			"expires_in": 600,
			"interval": 5
		}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	auth, err := client.RequestDeviceAuthorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", auth.UserCode)
	assert.Equal(t, "device-code-value", auth.DeviceCode)
	assert.Equal(t, "https://auth.example.com/activate", auth.VerificationURI)
	assert.Equal(t, "https://auth.example.com/activate?user_code=ABCD-1234", auth.VerificationURIComplete)
	assert.Equal(t, int64(600), auth.ExpiresIn)
	assert.Equal(t, int64(5), auth.Interval)
}

func TestRequestDeviceAuthorization_CoercesStringNumbers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"user_code": "ABCD-1234",
			"device_code": "device-code-value",
			"verification_uri": "https://auth.example.com/activate",
			"expires_in": "900",
			"interval": "3"
		}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	auth, err := client.RequestDeviceAuthorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(900), auth.ExpiresIn)
	assert.Equal(t, int64(3), auth.Interval)
}

func TestRequestDeviceAuthorization_FloorsInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"user_code": "X", "device_code": "Y", "verification_uri": "https://e.com", "interval": 0}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	auth, err := client.RequestDeviceAuthorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), auth.Interval, "interval must be floored to 1 second")
}

func TestRequestDeviceAuthorization_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": "unauthorized_client"}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	_, err := client.RequestDeviceAuthorization(context.Background())
	var authErr *AuthorizationRequestError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
	assert.Contains(t, authErr.Body, "unauthorized_client")
}

func TestPollForToken_PendingThenSuccess(t *testing.T) {
	const pendingResponses = 3

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", r.Form.Get("grant_type"))
		assert.Equal(t, "device-code-value", r.Form.Get("device_code"))
		assert.Equal(t, "test-client", r.Form.Get("client_id"))

		n := requests.Add(1)
		if n <= pendingResponses {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": "authorization_pending"}`)
			return
		}
		fmt.Fprint(w, `{"access_token": "new-access", "refresh_token": "new-refresh", "expires_in": 3600, "token_type": "Bearer"}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	token, err := client.PollForToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "device-code-value",
		Interval:   5,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Equal(t, "new-refresh", token.RefreshToken)

	assert.Equal(t, int32(pendingResponses+1), requests.Load(), "expected exactly N+1 requests")
	require.Len(t, sleeps, pendingResponses+1, "expected a sleep before every request")
	for _, d := range sleeps {
		assert.Equal(t, 5*time.Second, d)
	}
}

func TestPollForToken_ExpiredTokenFailsFast(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "expired_token"}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	_, err := client.PollForToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "device-code-value",
		Interval:   1,
		ExpiresIn:  600,
	})
	var expiredErr *DeviceCodeExpiredError
	require.ErrorAs(t, err, &expiredErr)
	assert.Equal(t, int32(1), requests.Load(), "expired_token must stop polling immediately")
}

func TestPollForToken_SlowDownWidensInterval(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error": "slow_down"}`)
			return
		}
		fmt.Fprint(w, `{"access_token": "new-access", "expires_in": 3600}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	_, err := client.PollForToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "device-code-value",
		Interval:   5,
	})
	require.NoError(t, err)

	require.Len(t, sleeps, 2)
	assert.Equal(t, 5*time.Second, sleeps[0])
	assert.Equal(t, 10*time.Second, sleeps[1], "slow_down must add 5 seconds to the interval")
}

func TestPollForToken_ExhaustsAttempts(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "authorization_pending"}`)
	}))
	defer server.Close()

	var sleeps []time.Duration
	client := newTestClient(server.URL, &sleeps)

	// 10 seconds of validity at a 2-second interval: 5 attempts.
	_, err := client.PollForToken(context.Background(), &DeviceAuthorization{
		DeviceCode: "device-code-value",
		Interval:   2,
		ExpiresIn:  10,
	})
	var timeoutErr *LoginTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 5, timeoutErr.Attempts)
	assert.Equal(t, int32(5), requests.Load())
}

func TestPollForToken_ContextCancellationAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "authorization_pending"}`)
	}))
	defer server.Close()

	client := NewClient("test-client", server.URL+"/device", server.URL+"/token")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.PollForToken(ctx, &DeviceAuthorization{
		DeviceCode: "device-code-value",
		Interval:   1,
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRefreshAccessToken_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.Form.Get("refresh_token"))
		assert.Equal(t, "test-client", r.Form.Get("client_id"))

		fmt.Fprint(w, `{"access_token": "rotated-access", "refresh_token": "rotated-refresh", "expires_in": 7200, "token_type": "Bearer", "scope": "openid"}`)
	}))
	defer server.Close()

	client := NewClient("test-client", server.URL+"/device", server.URL+"/token")

	before := time.Now().Unix()
	token, err := client.RefreshAccessToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "rotated-access", token.AccessToken)
	assert.Equal(t, "rotated-refresh", token.RefreshToken)
	assert.Equal(t, "openid", token.Scope)
	assert.GreaterOrEqual(t, token.ExpiresAt.Unix(), before+7200, "expiry must be now + expires_in")
}

func TestRefreshAccessToken_InvalidGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "invalid_grant", "error_description": "invalid_grant"}`)
	}))
	defer server.Close()

	client := NewClient("test-client", server.URL+"/device", server.URL+"/token")

	_, err := client.RefreshAccessToken(context.Background(), "revoked-refresh")
	var refreshErr *TokenRefreshError
	require.ErrorAs(t, err, &refreshErr)
	assert.Equal(t, http.StatusBadRequest, refreshErr.StatusCode)
	assert.Equal(t, "invalid_grant", refreshErr.ErrorCode)
	assert.Contains(t, refreshErr.Error(), "invalid_grant")
}

func TestRefreshAccessToken_DefaultLifetimeWhenOmitted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token": "rotated-access"}`)
	}))
	defer server.Close()

	client := NewClient("test-client", server.URL+"/device", server.URL+"/token")

	token, err := client.RefreshAccessToken(context.Background(), "old-refresh")
	require.NoError(t, err)

	remaining := time.Until(token.ExpiresAt)
	assert.Greater(t, remaining, 59*time.Minute, "omitted expires_in must default to one hour")
	assert.LessOrEqual(t, remaining, time.Hour)
}

func TestFlexInt64_Unmarshal(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{`42`, 42, false},
		{`"42"`, 42, false},
		{`null`, 0, false},
		{`""`, 0, false},
		{`"abc"`, 0, true},
		{`true`, 0, true},
	}

	for _, test := range tests {
		var f flexInt64
		err := json.Unmarshal([]byte(test.input), &f)
		if test.wantErr {
			assert.Error(t, err, "input %s", test.input)
			continue
		}
		require.NoError(t, err, "input %s", test.input)
		assert.Equal(t, test.expected, int64(f), "input %s", test.input)
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, (&DeviceCodeExpiredError{}).Error(), "device code expired")
	assert.Contains(t, (&LoginTimeoutError{Attempts: 120}).Error(), "120")
	assert.Contains(t, (&AuthorizationRequestError{StatusCode: 500, Body: "oops"}).Error(), "500")

	refreshErr := &TokenRefreshError{StatusCode: 400, ErrorCode: "invalid_grant"}
	assert.Contains(t, refreshErr.Error(), "invalid_grant")

	bare := &TokenRefreshError{StatusCode: 503}
	assert.Contains(t, bare.Error(), "503")
}
