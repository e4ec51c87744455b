package oauth

import (
	"time"

	"golang.org/x/oauth2"
)

// SeedValidityMargin is the minimum remaining lifetime a token read from disk
// must have before it is worth seeding or short-circuiting a login with.
// It absorbs clock skew between the broker and the OAuth server plus the
// latency of any request already in flight.
const SeedValidityMargin = 60 * time.Second

// TokenRefreshThreshold is the duration before expiry at which tokens are
// proactively refreshed. It is also the margin a token found on disk must
// clear before it is preferred over performing a network refresh.
const TokenRefreshThreshold = 5 * time.Minute

// Token represents an OAuth access token with associated metadata.
// It is the canonical in-memory shape of a credential; the on-disk stores
// each persist their own shape of the same data.
type Token struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// TokenType is typically "Bearer".
	TokenType string `json:"token_type,omitempty"`

	// RefreshToken is used to obtain new access tokens.
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the absolute expiration instant, always derived from the
	// server-supplied relative lifetime (never from a server timestamp).
	// It carries second precision so store conversions are exact.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	// Scope is the granted scope(s), space-separated.
	Scope string `json:"scope,omitempty"`
}

// NewToken builds a Token whose expiry is now + expiresIn seconds.
// expiresIn values <= 0 fall back to defaultLifetime. The expiry is truncated
// to whole seconds so that persisting it as Unix seconds and milliseconds
// stays an exact round trip.
func NewToken(accessToken, refreshToken, tokenType, scope string, expiresIn int64, defaultLifetime time.Duration) *Token {
	if expiresIn <= 0 {
		expiresIn = int64(defaultLifetime / time.Second)
	}
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
		Scope:        scope,
		ExpiresAt:    time.Unix(time.Now().Unix()+expiresIn, 0),
	}
}

// IsExpired checks whether the token has expired or will expire within the
// given margin. A token without an expiry never expires.
func (t *Token) IsExpired(margin time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.ExpiresAt)
}

// ValidFor reports whether the token is usable for at least d more.
func (t *Token) ValidFor(d time.Duration) bool {
	return t != nil && t.AccessToken != "" && !t.IsExpired(d)
}

// TimeRemaining returns the duration until expiry. Negative when expired,
// zero when the token has no expiry.
func (t *Token) TimeRemaining() time.Duration {
	if t.ExpiresAt.IsZero() {
		return 0
	}
	return time.Until(t.ExpiresAt)
}

// ToOAuth2Token converts the Token to an oauth2.Token for compatibility with
// golang.org/x/oauth2 based HTTP stacks.
func (t *Token) ToOAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// IsFresher reports whether candidate supersedes current: it must carry a
// different access token (the same token rewritten is not news) and still be
// valid past the refresh threshold. This is the single rule used to decide
// whether a token found on disk should win over a network refresh.
func IsFresher(candidate, current *Token) bool {
	if candidate == nil || candidate.AccessToken == "" {
		return false
	}
	if current != nil && candidate.AccessToken == current.AccessToken {
		return false
	}
	return candidate.ValidFor(TokenRefreshThreshold)
}
