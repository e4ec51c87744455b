package deviceflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// flexInt64 decodes a JSON value that some servers send as a number and
// others as a quoted string.
type flexInt64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = flexInt64(n)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

// DeviceAuthorization holds the result of a device authorization request.
// It is ephemeral: it lives only for the duration of one login attempt.
type DeviceAuthorization struct {
	UserCode                string
	DeviceCode              string
	VerificationURI         string
	VerificationURIComplete string

	// ExpiresIn is the validity window of the device code in seconds.
	// Zero means the server did not say; a bounded default applies.
	ExpiresIn int64

	// Interval is the minimum polling period in seconds, never below 1.
	// A slow_down response from the server increases it.
	Interval int64
}

// deviceAuthorizationResponse is the wire shape of the device authorization
// endpoint response.
type deviceAuthorizationResponse struct {
	UserCode                string    `json:"user_code"`
	DeviceCode              string    `json:"device_code"`
	VerificationURI         string    `json:"verification_uri"`
	VerificationURIComplete string    `json:"verification_uri_complete"`
	ExpiresIn               flexInt64 `json:"expires_in"`
	Interval                flexInt64 `json:"interval"`
}

// tokenResponse is the wire shape of both token endpoint grants. A pending
// poll response carries the error fields instead of a token.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
	ExpiresIn    flexInt64 `json:"expires_in"`

	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}
