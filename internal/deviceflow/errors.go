package deviceflow

import "fmt"

// AuthorizationRequestError indicates the device authorization endpoint
// returned a non-success HTTP status.
type AuthorizationRequestError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *AuthorizationRequestError) Error() string {
	return fmt.Sprintf("device authorization request failed with status %d: %s", e.StatusCode, e.Body)
}

// TokenRefreshError indicates the token endpoint rejected a refresh-token
// grant. Description carries the server's error_description when present.
type TokenRefreshError struct {
	StatusCode  int
	ErrorCode   string
	Description string
}

// Error implements the error interface.
func (e *TokenRefreshError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token refresh failed with status %d: %s", e.StatusCode, e.Description)
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("token refresh failed with status %d: %s", e.StatusCode, e.ErrorCode)
	}
	return fmt.Sprintf("token refresh failed with status %d", e.StatusCode)
}

// DeviceCodeExpiredError indicates the device code lapsed before the user
// completed authorization. The login must be restarted from scratch.
type DeviceCodeExpiredError struct{}

// Error implements the error interface.
func (e *DeviceCodeExpiredError) Error() string {
	return "device code expired before authorization completed, please log in again"
}

// LoginTimeoutError indicates the poll loop exhausted its attempt budget
// without the user completing authorization.
type LoginTimeoutError struct {
	Attempts int
}

// Error implements the error interface.
func (e *LoginTimeoutError) Error() string {
	return fmt.Sprintf("login timed out after %d polling attempts", e.Attempts)
}
