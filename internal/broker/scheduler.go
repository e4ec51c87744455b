package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kimibroker/internal/store"
	"kimibroker/pkg/logging"
	"kimibroker/pkg/oauth"
)

// Scheduler periodically checks the CLI credential file and triggers a
// refresh before the token expires, so a long-lived session never observes
// an expired credential.
//
// At most one refresh attempt is in flight at a time: a tick that fires
// while a refresh from another tick or a manual trigger is still outstanding
// is skipped, never queued. The gate lives in the reconciler so every
// refresh path shares it. A failed attempt is reported to the notifier and
// retried on the next tick.
type Scheduler struct {
	tokens     *store.TokenStore
	reconciler *Reconciler
	notifier   Notifier
	interval   time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewScheduler creates a refresh scheduler. interval is the tick period.
func NewScheduler(tokens *store.TokenStore, reconciler *Reconciler, notifier Notifier, interval time.Duration) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Scheduler{
		tokens:     tokens,
		reconciler: reconciler,
		notifier:   notifier,
		interval:   interval,
	}
}

// Start launches the background ticker. Calling Start on a running
// scheduler is a no-op, so the host can invoke it at every agent activity.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	go s.loop(ctx, stopCh)
	logging.Info("Scheduler", "Refresh scheduler started (interval %s)", s.interval)
}

// Stop halts the background ticker. Safe to call on a stopped scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	logging.Info("Scheduler", "Refresh scheduler stopped")
}

// Running reports whether the background ticker is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CheckNow performs one freshness check immediately. It is invoked at
// session start and by each tick.
func (s *Scheduler) CheckNow(ctx context.Context) {
	token := s.tokens.Load()
	if token == nil || token.RefreshToken == "" {
		logging.Debug("Scheduler", "No refreshable credential on disk, skipping tick")
		return
	}

	remaining := token.TimeRemaining()
	if remaining >= oauth.TokenRefreshThreshold {
		logging.Debug("Scheduler", "Credential still valid for %s, nothing to do", remaining.Round(time.Second))
		return
	}

	logging.Info("Scheduler", "Credential expires in %s, refreshing", remaining.Round(time.Second))
	_, skipped, err := s.reconciler.TryRefresh(ctx)
	if skipped {
		logging.Debug("Scheduler", "Refresh already in flight, skipping tick")
		return
	}
	if err != nil {
		// Not fatal: the current token keeps being used and the next tick
		// retries.
		s.notifier.Notify(fmt.Sprintf("Background token refresh failed: %v", err))
		logging.Error("Scheduler", err, "Background refresh failed")
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.CheckNow(ctx)
		}
	}
}
