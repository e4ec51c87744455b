package broker

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"kimibroker/internal/config"
	"kimibroker/internal/deviceflow"
	"kimibroker/internal/store"
	"kimibroker/pkg/logging"
	"kimibroker/pkg/oauth"
)

// EnvAccessTokenOverride names the environment variable that injects a
// bearer token directly, bypassing both stores and the device flow. When set
// it always wins.
const EnvAccessTokenOverride = "KIMI_ACCESS_TOKEN"

// Session owns everything the host application needs from the broker: the
// current-token cache, the two stores, the refresh scheduler, and the
// credential watcher. It replaces ambient global state with an explicit
// object the host injects where a token is needed.
type Session struct {
	id          string
	cfg         config.BrokerConfig
	tokens      *store.TokenStore
	brokerStore *store.BrokerStore
	reconciler  *Reconciler
	scheduler   *Scheduler
	watcher     *CredentialWatcher
	notifier    Notifier

	// refreshGroup coalesces concurrent manual refresh triggers into one
	// network call whose result everyone shares.
	refreshGroup singleflight.Group
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithNotifier plugs in the host's notification surface.
func WithNotifier(n Notifier) SessionOption {
	return func(s *Session) {
		s.notifier = n
	}
}

// NewSession builds a session from configuration. The device flow client is
// created from the configured OAuth endpoints.
func NewSession(cfg config.BrokerConfig, opts ...SessionOption) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		notifier: LogNotifier{},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.tokens = store.NewTokenStore(cfg.Stores.CLICredentialsPath)
	s.brokerStore = store.NewBrokerStore(cfg.Stores.BrokerAuthPath)

	flow := deviceflow.NewClient(cfg.OAuth.ClientID, cfg.OAuth.DeviceAuthorizationURL, cfg.OAuth.TokenURL)
	s.reconciler = NewReconciler(s.tokens, s.brokerStore, flow, cfg.OAuth.Provider)
	s.scheduler = NewScheduler(s.tokens, s.reconciler, s.notifier, cfg.RefreshInterval.Duration())
	s.watcher = NewCredentialWatcher(cfg.Stores.CLICredentialsPath, func() {
		s.reconciler.SeedFromDisk()
	})

	return s
}

// newSessionForTesting wires a session around pre-built collaborators.
func newSessionForTesting(cfg config.BrokerConfig, flow DeviceFlow, notifier Notifier) *Session {
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		notifier: notifier,
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{}
	}

	s.tokens = store.NewTokenStore(cfg.Stores.CLICredentialsPath)
	s.brokerStore = store.NewBrokerStore(cfg.Stores.BrokerAuthPath)
	s.reconciler = NewReconciler(s.tokens, s.brokerStore, flow, cfg.OAuth.Provider)
	s.scheduler = NewScheduler(s.tokens, s.reconciler, s.notifier, cfg.RefreshInterval.Duration())
	s.watcher = NewCredentialWatcher(cfg.Stores.CLICredentialsPath, func() {
		s.reconciler.SeedFromDisk()
	})
	return s
}

// ID returns the session identifier, used to correlate log entries and
// notifications from this broker instance.
func (s *Session) ID() string {
	return s.id
}

// Start is the session-start lifecycle hook: it seeds the cache from the CLI
// credential file, performs one immediate freshness check, and begins
// watching the file for changes made by the companion tool.
func (s *Session) Start(ctx context.Context) {
	logging.Info("Session", "Broker session %s starting", s.id)

	s.reconciler.SeedFromDisk()
	s.scheduler.CheckNow(ctx)
	s.watcher.Start()
}

// StartScheduler is the agent-activity hook: it starts the background
// refresh timer. Idempotent, so the host may call it at every activity.
func (s *Session) StartScheduler(ctx context.Context) {
	s.scheduler.Start(ctx)
}

// Stop is the shutdown hook: it stops the background timer and the watcher.
func (s *Session) Stop() {
	s.scheduler.Stop()
	s.watcher.Stop()
	logging.Info("Session", "Broker session %s stopped", s.id)
}

// Login runs the credential acquisition flow, short-circuiting when a valid
// token already exists on disk.
func (s *Session) Login(ctx context.Context, prompt AuthorizationPrompt) (*oauth.Token, error) {
	return s.reconciler.Login(ctx, prompt)
}

// Refresh obtains a fresh token. Concurrent callers share one in-flight
// refresh rather than issuing overlapping grants.
func (s *Session) Refresh(ctx context.Context) (*oauth.Token, error) {
	result, err, _ := s.refreshGroup.Do("refresh", func() (interface{}, error) {
		return s.reconciler.Refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*oauth.Token), nil
}

// CurrentToken returns the cached token, or nil when none is held.
func (s *Session) CurrentToken() *oauth.Token {
	return s.reconciler.Current()
}

// Entries returns the broker store's provider entries, for status display.
func (s *Session) Entries() map[string]store.CredentialRecord {
	return s.brokerStore.Load()
}

// Provider returns the provider name this session brokers credentials for.
func (s *Session) Provider() string {
	return s.cfg.OAuth.Provider
}

// CLIToken returns the token currently held by the companion CLI file, or
// nil. For status display.
func (s *Session) CLIToken() *oauth.Token {
	return s.tokens.Load()
}

// Logout removes the broker's own entry for this provider. The companion CLI
// file is never touched: it belongs to the Kimi CLI.
func (s *Session) Logout() error {
	return s.brokerStore.Remove(s.cfg.OAuth.Provider)
}

// AccessToken returns a currently valid access token. The environment
// override wins unconditionally; otherwise the cache and disk are consulted,
// and a refresh is attempted as a last resort.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if override := os.Getenv(EnvAccessTokenOverride); override != "" {
		return override, nil
	}

	token, err := s.ensureValidToken(ctx)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// BearerToken returns the access token formatted as an Authorization header
// value.
func (s *Session) BearerToken(ctx context.Context) (string, error) {
	token, err := s.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// ensureValidToken returns a token valid past the seed margin, trying the
// cache, then the CLI file, then a network refresh.
func (s *Session) ensureValidToken(ctx context.Context) (*oauth.Token, error) {
	if token := s.reconciler.Current(); token.ValidFor(oauth.SeedValidityMargin) {
		return token, nil
	}

	if token := s.reconciler.SeedFromDisk(); token != nil {
		return token, nil
	}

	token, err := s.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("no valid credential available: %w", err)
	}
	return token, nil
}

// TokenSource returns an oauth2.TokenSource backed by this session, so the
// broker can be mounted into any golang.org/x/oauth2 based HTTP stack.
func (s *Session) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, session: s}
}

type sessionTokenSource struct {
	ctx     context.Context
	session *Session
}

// Token implements oauth2.TokenSource.
func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	if override := os.Getenv(EnvAccessTokenOverride); override != "" {
		return &oauth2.Token{AccessToken: override, TokenType: "Bearer"}, nil
	}

	token, err := ts.session.ensureValidToken(ts.ctx)
	if err != nil {
		return nil, err
	}
	return token.ToOAuth2Token(), nil
}
