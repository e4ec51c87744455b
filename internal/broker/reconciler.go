package broker

import (
	"context"
	"sync"

	"kimibroker/internal/deviceflow"
	"kimibroker/internal/store"
	"kimibroker/pkg/logging"
	"kimibroker/pkg/oauth"
)

// DeviceFlow is the slice of the device-flow client the reconciler needs.
// It is an interface so tests can substitute a fake OAuth server side.
type DeviceFlow interface {
	RequestDeviceAuthorization(ctx context.Context) (*deviceflow.DeviceAuthorization, error)
	PollForToken(ctx context.Context, auth *deviceflow.DeviceAuthorization) (*oauth.Token, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// AuthorizationPrompt is called when a device flow needs the user to visit a
// verification URL. The CLI prints the code; a host application may open a
// browser or render its own notice.
type AuthorizationPrompt func(auth *deviceflow.DeviceAuthorization)

// Reconciler decides which copy of the credential is authoritative: the Kimi
// CLI's file, the broker's own store, or the in-process cache. All three
// entry points (seed, login, refresh) funnel through it.
//
// The read-decide-write sequences are serialized by the state mutex so
// overlapping triggers cannot produce a lost update on either store. That
// mutex is never held across a network call; cross-process races are handled
// by re-reading the CLI file immediately before any refresh decision. A
// separate gate (refreshMu) spans whole refresh attempts so at most one is
// ever in flight.
type Reconciler struct {
	tokens   *store.TokenStore
	broker   *store.BrokerStore
	flow     DeviceFlow
	provider string

	// refreshMu is held for the full duration of a refresh attempt, network
	// phase included. It is the single in-flight gate shared by every refresh
	// trigger: the scheduler try-locks it so an overlapping tick is skipped
	// rather than starting a second refresh with the same refresh token.
	refreshMu sync.Mutex

	state struct {
		mu     sync.Mutex
		cached *oauth.Token
	}
}

// NewReconciler creates a reconciler over the two stores.
func NewReconciler(tokens *store.TokenStore, brokerStore *store.BrokerStore, flow DeviceFlow, provider string) *Reconciler {
	return &Reconciler{
		tokens:   tokens,
		broker:   brokerStore,
		flow:     flow,
		provider: provider,
	}
}

// SeedFromDisk reads the CLI credential file and, when it holds a usable
// token, propagates it into the broker store and the in-process cache.
// Returns the seeded token, or nil when nothing usable is on disk.
func (r *Reconciler) SeedFromDisk() *oauth.Token {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	token := r.tokens.Load()
	if !token.ValidFor(oauth.SeedValidityMargin) {
		logging.Debug("Reconciler", "No usable CLI credential to seed from")
		return nil
	}

	r.propagateLocked(token)
	logging.Info("Reconciler", "Seeded credential for provider=%s from CLI store", r.provider)
	return token
}

// Current returns the cached token, or nil when nothing has been acquired.
func (r *Reconciler) Current() *oauth.Token {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return r.state.cached
}

// Login acquires a credential interactively. When the CLI file already holds
// a valid token the device flow is skipped entirely: two cooperating tools
// sharing one client identity must not log in twice.
func (r *Reconciler) Login(ctx context.Context, prompt AuthorizationPrompt) (*oauth.Token, error) {
	r.state.mu.Lock()
	if token := r.tokens.Load(); token.ValidFor(oauth.SeedValidityMargin) {
		r.propagateLocked(token)
		r.state.mu.Unlock()
		logging.Info("Reconciler", "Reusing valid CLI credential, skipping device flow")
		return token, nil
	}
	r.state.mu.Unlock()

	// Network phase, no lock held.
	auth, err := r.flow.RequestDeviceAuthorization(ctx)
	if err != nil {
		return nil, err
	}

	if prompt != nil {
		prompt(auth)
	}

	token, err := r.flow.PollForToken(ctx, auth)
	if err != nil {
		return nil, err
	}

	r.state.mu.Lock()
	r.persistLocked(token)
	r.state.mu.Unlock()

	logging.Info("Reconciler", "Device flow completed for provider=%s", r.provider)
	return token, nil
}

// Refresh obtains a token that is valid past the refresh threshold. It
// re-reads the CLI file first: if another process already rotated the
// refresh token, using our stale copy would invalidate both sessions, so a
// fresher token found on disk always wins over a network refresh.
//
// Callers that must not block behind an in-flight refresh use TryRefresh.
func (r *Reconciler) Refresh(ctx context.Context) (*oauth.Token, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	return r.refresh(ctx)
}

// TryRefresh performs a refresh unless one is already in flight, in which
// case it reports skipped=true without blocking. Used by the scheduler so a
// tick overlapping a manual refresh is dropped, never queued.
func (r *Reconciler) TryRefresh(ctx context.Context) (token *oauth.Token, skipped bool, err error) {
	if !r.refreshMu.TryLock() {
		return nil, true, nil
	}
	defer r.refreshMu.Unlock()

	token, err = r.refresh(ctx)
	return token, false, err
}

func (r *Reconciler) refresh(ctx context.Context) (*oauth.Token, error) {
	r.state.mu.Lock()
	cached := r.state.cached

	if diskToken := r.tokens.Load(); oauth.IsFresher(diskToken, cached) {
		r.propagateLocked(diskToken)
		r.state.mu.Unlock()
		logging.Info("Reconciler", "Adopted credential refreshed by another process, skipping network refresh")
		return diskToken, nil
	}

	refreshToken := ""
	if cached != nil {
		refreshToken = cached.RefreshToken
	}
	if refreshToken == "" {
		if diskToken := r.tokens.Load(); diskToken != nil {
			refreshToken = diskToken.RefreshToken
		}
	}
	r.state.mu.Unlock()

	if refreshToken == "" {
		return nil, &deviceflow.TokenRefreshError{Description: "no refresh token available"}
	}

	// Network phase, no lock held.
	token, err := r.flow.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	r.state.mu.Lock()
	r.persistLocked(token)
	r.state.mu.Unlock()

	logging.Info("Reconciler", "Refreshed credential for provider=%s", r.provider)
	return token, nil
}

// persistLocked writes the token to both stores and the cache. Store
// failures degrade to logging: a token held in memory stays usable even when
// neither file can be written.
func (r *Reconciler) persistLocked(token *oauth.Token) {
	r.tokens.Save(token)
	if err := r.broker.Upsert(r.provider, store.RecordFromToken(token)); err != nil {
		logging.Warn("Reconciler", "Failed to update broker store: %v", err)
	}
	r.state.cached = token
}

// propagateLocked installs a token read from the CLI file into the cache and,
// when the broker store's entry is absent, expired, or holds an older access
// token, into the broker store as well.
func (r *Reconciler) propagateLocked(token *oauth.Token) {
	record, ok := r.broker.Get(r.provider)
	if !ok || !record.IsFresh() || record.Access != token.AccessToken {
		if err := r.broker.Upsert(r.provider, store.RecordFromToken(token)); err != nil {
			logging.Warn("Reconciler", "Failed to update broker store: %v", err)
		}
	}
	r.state.cached = token
}
