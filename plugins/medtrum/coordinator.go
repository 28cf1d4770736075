package medtrum

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// OutcomeKind classifies one refresh cycle.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	OutcomeSuccess
	OutcomeAuthFailed
	OutcomeCommunicationFailed
	OutcomeAPIFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailed:
		return "auth_failed"
	case OutcomeCommunicationFailed:
		return "communication_failed"
	case OutcomeAPIFailed:
		return "api_failed"
	default:
		return "none"
	}
}

// Transient reports whether the next scheduled cycle should retry.
func (k OutcomeKind) Transient() bool {
	return k == OutcomeCommunicationFailed || k == OutcomeAPIFailed
}

var outcomeKinds = []OutcomeKind{OutcomeSuccess, OutcomeAuthFailed, OutcomeCommunicationFailed, OutcomeAPIFailed}

// Outcome is the result of one cycle.
type Outcome struct {
	Kind     OutcomeKind
	Started  time.Time
	Duration time.Duration
	Err      error
}

func classifyOutcome(err error) OutcomeKind {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrAuthentication):
		return OutcomeAuthFailed
	case errors.Is(err, ErrCommunication):
		return OutcomeCommunicationFailed
	default:
		return OutcomeAPIFailed
	}
}

// StatusFetcher is satisfied by *Session.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) (*Snapshot, error)
}

// CoordinatorStats is a point-in-time view of the refresh loop.
type CoordinatorStats struct {
	Last        Outcome
	LastSuccess time.Time
	Cycles      map[OutcomeKind]uint64
	AuthFailed  bool
	Running     bool
}

// Coordinator owns the current snapshot and the periodic refresh loop.
// Fetches never overlap; a failed cycle leaves the previous snapshot in place.
type Coordinator struct {
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	// refreshMu serialises cycles and guards fetcher.
	refreshMu sync.Mutex
	fetcher   StatusFetcher

	snapshot atomic.Pointer[Snapshot]

	mu          sync.Mutex
	last        Outcome
	lastSuccess time.Time
	cycles      map[OutcomeKind]uint64
	authFailed  bool
	authCh      chan struct{}
	listeners   map[int]func(*Snapshot)
	nextID      int
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewCoordinator(fetcher StatusFetcher, interval time.Duration, logger *zap.Logger) *Coordinator {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		fetcher:   fetcher,
		cycles:    make(map[OutcomeKind]uint64),
		authCh:    make(chan struct{}),
		listeners: make(map[int]func(*Snapshot)),
	}
}

// Snapshot returns the last successful snapshot, or nil before the first one.
func (c *Coordinator) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// OnUpdate registers fn to run after every successful cycle, outside the
// cycle lock. A snapshot superseded before fn runs is skipped. The returned
// func removes it.
func (c *Coordinator) OnUpdate(fn func(*Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// AuthFailed is closed when a cycle is rejected for authentication.
func (c *Coordinator) AuthFailed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCh
}

func (c *Coordinator) Stats() CoordinatorStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	cycles := make(map[OutcomeKind]uint64, len(c.cycles))
	for kind, n := range c.cycles {
		cycles[kind] = n
	}
	return CoordinatorStats{
		Last:        c.last,
		LastSuccess: c.lastSuccess,
		Cycles:      cycles,
		AuthFailed:  c.authFailed,
		Running:     c.done != nil,
	}
}

// FirstRefresh runs the initial cycle synchronously so readers have a
// snapshot before they start.
func (c *Coordinator) FirstRefresh(ctx context.Context) error {
	outcome := c.Refresh(ctx)
	if outcome.Kind != OutcomeSuccess {
		return outcome.Err
	}
	return nil
}

// Refresh runs exactly one cycle. Concurrent callers wait their turn.
// Listeners run after the cycle lock is released.
func (c *Coordinator) Refresh(ctx context.Context) Outcome {
	outcome, snapshot, seq := c.refresh(ctx)
	if outcome.Kind == OutcomeSuccess {
		c.notify(snapshot, seq)
	}
	return outcome
}

func (c *Coordinator) refresh(ctx context.Context) (Outcome, *Snapshot, uint64) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	started := c.now()
	var (
		snapshot *Snapshot
		err      error
	)
	if c.fetcher == nil {
		err = &APIError{Reason: "no status fetcher"}
	} else {
		snapshot, err = c.fetcher.FetchStatus(ctx)
		if err == nil && snapshot == nil {
			err = &APIError{Reason: "empty snapshot"}
		}
	}

	outcome := Outcome{
		Kind:     classifyOutcome(err),
		Started:  started,
		Duration: c.now().Sub(started),
		Err:      err,
	}
	if outcome.Kind == OutcomeSuccess {
		c.snapshot.Store(snapshot)
	}
	seq := c.record(outcome)
	c.logOutcome(outcome)
	return outcome, snapshot, seq
}

// recordFailure books work done outside Refresh, such as the setup login,
// as a failed cycle. err must be non-nil.
func (c *Coordinator) recordFailure(started time.Time, err error) Outcome {
	outcome := Outcome{
		Kind:     classifyOutcome(err),
		Started:  started,
		Duration: c.now().Sub(started),
		Err:      err,
	}
	c.record(outcome)
	c.logOutcome(outcome)
	return outcome
}

func (c *Coordinator) logOutcome(outcome Outcome) {
	switch outcome.Kind {
	case OutcomeSuccess:
		c.logger.Debug("refresh succeeded", zap.Duration("duration", outcome.Duration))
	case OutcomeAuthFailed:
		c.logger.Error("refresh rejected; re-authentication required", zap.Error(outcome.Err))
	case OutcomeCommunicationFailed:
		c.logger.Warn("refresh failed; keeping last snapshot", zap.Error(outcome.Err))
	default:
		c.logger.Error("refresh failed unexpectedly; keeping last snapshot", zap.Error(outcome.Err))
	}
}

// record stores the outcome and returns the success count, which orders
// snapshots for notify.
func (c *Coordinator) record(outcome Outcome) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.last = outcome
	c.cycles[outcome.Kind]++
	switch outcome.Kind {
	case OutcomeSuccess:
		c.lastSuccess = outcome.Started
	case OutcomeAuthFailed:
		if !c.authFailed {
			c.authFailed = true
			close(c.authCh)
		}
	}
	return c.cycles[OutcomeSuccess]
}

// notify hands snapshot to the listeners unless a newer cycle has already
// succeeded.
func (c *Coordinator) notify(snapshot *Snapshot, seq uint64) {
	c.mu.Lock()
	if seq != c.cycles[OutcomeSuccess] {
		c.mu.Unlock()
		return
	}
	listeners := make([]func(*Snapshot), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Rebind swaps in a freshly authenticated fetcher and clears the auth
// failure. The current snapshot is kept.
func (c *Coordinator) Rebind(fetcher StatusFetcher) {
	c.refreshMu.Lock()
	c.fetcher = fetcher
	c.refreshMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authFailed {
		c.authFailed = false
		c.authCh = make(chan struct{})
	}
}

// Start launches the background loop. The first scheduled cycle runs one
// interval after Start; the timer is re-armed only after a cycle finishes.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(ctx, done)
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.done == done {
			c.done = nil
			c.cancel = nil
		}
		c.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// Teardown must not abort a request mid-flight.
		outcome := c.Refresh(context.WithoutCancel(ctx))
		if outcome.Kind == OutcomeAuthFailed {
			c.logger.Warn("refresh loop stopped after authentication failure")
			return
		}
		timer.Reset(c.interval)
	}
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
