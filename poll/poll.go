// Package poll drives the shoutbox synchronization loop: it keeps an
// authenticated session alive, fetches the remote feed on an adaptive
// interval, and writes parsed posts into local storage.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"autemo-sync/pkg/shout"

	"github.com/google/uuid"
)

// Client is the remote shoutbox surface the engine drives.
type Client interface {
	FetchPosts(ctx context.Context, token string) ([]*shout.Post, error)
	SetUserTimezone(ctx context.Context, token string, offsetHours float64) (int, error)
}

// Store is the local persistence surface for fetched posts.
type Store interface {
	SavePosts(ctx context.Context, posts []*shout.Post) (int, error)
	NewestPostTime(ctx context.Context) (time.Time, error)
}

// TokenSource supplies and invalidates session tokens. Token may block,
// e.g. on a first-time interactive login.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(token string)
}

// State is the engine lifecycle state.
type State int

const (
	StateStopped State = iota
	StateAcquiringToken
	StatePolling
)

// The fixed set of poll intervals, keyed off the age of the newest stored
// post. A busy shoutbox is polled every 2.5s; a quiet one every 15s.
const (
	intervalFast    = 2500 * time.Millisecond
	intervalMedium  = 5 * time.Second
	intervalSlow    = 10 * time.Second
	intervalSlowest = 15 * time.Second
)

// intervalFor picks the poll interval for a given newest-post age.
func intervalFor(sinceLastPost time.Duration) time.Duration {
	switch {
	case sinceLastPost < 2*time.Minute:
		return intervalFast
	case sinceLastPost < 5*time.Minute:
		return intervalMedium
	case sinceLastPost < 10*time.Minute:
		return intervalSlow
	default:
		return intervalSlowest
	}
}

// Engine owns the polling loop. A single goroutine runs fetch ticks, so at
// most one fetch is in flight and interval changes cannot race a stale timer.
type Engine struct {
	client Client
	store  Store
	tokens TokenSource
	logger *slog.Logger

	// onFetching, when set before Start, receives best-effort "currently
	// fetching" transitions for UI indicators.
	onFetching func(bool)

	mu        sync.Mutex
	state     State
	token     string
	interval  time.Duration
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
	resync    chan struct{}
}

// New creates an engine. Call Start to begin polling.
func New(client Client, store Store, tokens TokenSource, logger *slog.Logger) *Engine {
	return &Engine{
		client:   client,
		store:    store,
		tokens:   tokens,
		logger:   logger,
		interval: intervalFast,
		resync:   make(chan struct{}, 1),
	}
}

// OnFetching registers the fetching-state callback. Must be called before Start.
func (e *Engine) OnFetching(fn func(bool)) {
	e.onFetching = fn
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start begins the polling loop: the engine acquires a token, fetches once
// immediately, then polls at the adaptive interval. Starting a running
// engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return
	}
	e.state = StateAcquiringToken
	e.sessionID = uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	e.logger.Info("Sync engine starting", "session_id", e.sessionID)
	go e.run(ctx, runCtx, done)
}

// Stop cancels future ticks and returns once the loop goroutine has exited.
// The session token is kept so a later Start can resume without
// re-authenticating, unless it was invalidated meanwhile. An in-flight fetch
// is not interrupted; its results are still applied when it completes.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	done := e.done
	e.state = StateStopped
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info("Sync engine stopped")
}

// Resync nudges the engine to fetch immediately instead of waiting for the
// next scheduled tick. Used after a successful send so the user's own
// message shows up right away.
func (e *Engine) Resync() {
	select {
	case e.resync <- struct{}{}:
	default:
	}
}

// run is the loop goroutine. loopCtx only gates the waits between ticks so
// Stop never aborts a tick already in flight; the tick itself runs on the
// caller's tickCtx and is cut short only by application shutdown.
func (e *Engine) run(tickCtx, loopCtx context.Context, done chan struct{}) {
	defer close(done)

	// Fire the first tick immediately.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-e.resync:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		delay := e.tick(tickCtx)

		select {
		case <-loopCtx.Done():
			return
		default:
		}
		timer.Reset(delay)
	}
}

// tick runs one poll cycle and returns the delay until the next one.
func (e *Engine) tick(ctx context.Context) time.Duration {
	token, err := e.ensureToken(ctx)
	if err != nil {
		e.logger.Warn("Token acquisition failed, will retry next cycle",
			"session_id", e.sessionID, "error", err)
		return e.currentInterval()
	}

	e.setFetching(true)
	posts, err := e.client.FetchPosts(ctx, token)
	e.setFetching(false)

	if err != nil {
		e.logger.Warn("Fetch failed, will retry next cycle",
			"session_id", e.sessionID, "error", err)
		return e.currentInterval()
	}

	// The remote answers an expired session with an empty page rather than
	// an error, so an empty result means the token is stale.
	if len(posts) == 0 {
		e.logger.Info("Received empty feed, invalidating session token",
			"session_id", e.sessionID)
		e.tokens.Invalidate(token)
		e.mu.Lock()
		e.token = ""
		if e.state != StateStopped {
			e.state = StateAcquiringToken
		}
		e.mu.Unlock()
		return 0
	}

	inserted, err := e.store.SavePosts(ctx, posts)
	if err != nil {
		e.logger.Error("Failed to save posts", "session_id", e.sessionID, "error", err)
		return e.currentInterval()
	}
	if inserted > 0 {
		e.logger.Info("New posts stored",
			"session_id", e.sessionID, "fetched", len(posts), "new", inserted)
	}

	return e.reschedule(ctx)
}

// ensureToken returns the cached session token, acquiring a fresh one first
// when none is held. Token acquisition also triggers the one-shot remote
// timezone correction so post dates arrive in local time.
func (e *Engine) ensureToken(ctx context.Context) (string, error) {
	e.mu.Lock()
	token := e.token
	e.mu.Unlock()

	if token != "" {
		return token, nil
	}

	token, err := e.tokens.Token(ctx)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.token = token
	// Stop may have run while the login was in flight; a stopped engine must
	// stay stopped or a later Start would be refused.
	if e.state == StateAcquiringToken {
		e.state = StatePolling
	}
	e.mu.Unlock()

	e.logger.Info("Session token acquired, polling", "session_id", e.sessionID)

	go e.correctTimezone(ctx, token)

	return token, nil
}

// correctTimezone pushes the local UTC offset (DST included) to the remote
// profile. Best effort: a failure only costs post timestamps being off until
// the next token acquisition.
func (e *Engine) correctTimezone(ctx context.Context, token string) {
	_, offsetSeconds := time.Now().Zone()
	offsetHours := float64(offsetSeconds) / 3600

	status, err := e.client.SetUserTimezone(ctx, token, offsetHours)
	if err != nil {
		e.logger.Warn("Timezone correction failed", "session_id", e.sessionID, "error", err)
		return
	}
	if status != 200 {
		e.logger.Warn("Timezone correction returned non-OK status",
			"session_id", e.sessionID, "status_code", status)
	}
}

// reschedule recomputes the poll interval from the age of the newest stored
// post and returns the delay for the next tick.
func (e *Engine) reschedule(ctx context.Context) time.Duration {
	newest, err := e.store.NewestPostTime(ctx)
	if err != nil || newest.IsZero() {
		return e.currentInterval()
	}

	next := intervalFor(time.Since(newest))

	e.mu.Lock()
	prev := e.interval
	e.interval = next
	e.mu.Unlock()

	if next != prev {
		e.logger.Info("Poll interval changed",
			"session_id", e.sessionID, "previous", prev.String(), "interval", next.String())
	}

	return next
}

func (e *Engine) currentInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

func (e *Engine) setFetching(fetching bool) {
	if e.onFetching != nil {
		e.onFetching(fetching)
	}
}
