package medtrum

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fetchFunc func(ctx context.Context) (*Snapshot, error)

func (f fetchFunc) FetchStatus(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// scriptedFetcher replays results in order; the last one repeats.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	snapshot *Snapshot
	err      error
}

func (s *scriptedFetcher) FetchStatus(context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx].snapshot, s.results[idx].err
}

func (s *scriptedFetcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func sampleSnapshot(remaining int) *Snapshot {
	return &Snapshot{
		UID:      "123",
		RealName: "Jane",
		Pump:     Fields{"status": jsonNumber(32), "remainingTime": jsonNumber(remaining)},
		Sensor:   Fields{"status": jsonNumber(1)},
	}
}

func TestCoordinatorKeepsSnapshotAfterTransientFailure(t *testing.T) {
	first := sampleSnapshot(100)
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: first},
		{err: &CommunicationError{Reason: "timeout fetching information"}},
		{err: &APIError{Reason: "decode status response"}},
	}}
	coordinator := NewCoordinator(fetcher, time.Hour, zaptest.NewLogger(t))

	require.NoError(t, coordinator.FirstRefresh(context.Background()))
	assert.Same(t, first, coordinator.Snapshot())

	outcome := coordinator.Refresh(context.Background())
	assert.Equal(t, OutcomeCommunicationFailed, outcome.Kind)
	assert.True(t, outcome.Kind.Transient())
	assert.Same(t, first, coordinator.Snapshot())

	outcome = coordinator.Refresh(context.Background())
	assert.Equal(t, OutcomeAPIFailed, outcome.Kind)
	assert.True(t, outcome.Kind.Transient())
	assert.Same(t, first, coordinator.Snapshot())

	stats := coordinator.Stats()
	assert.Equal(t, OutcomeAPIFailed, stats.Last.Kind)
	assert.False(t, stats.LastSuccess.IsZero())
	assert.Equal(t, uint64(1), stats.Cycles[OutcomeSuccess])
	assert.Equal(t, uint64(1), stats.Cycles[OutcomeCommunicationFailed])
	assert.Equal(t, uint64(1), stats.Cycles[OutcomeAPIFailed])
	assert.False(t, stats.AuthFailed)
}

func TestCoordinatorFirstRefreshFailureLeavesNoSnapshot(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{{err: &CommunicationError{Reason: "error fetching information"}}}}
	coordinator := NewCoordinator(fetcher, time.Hour, zaptest.NewLogger(t))

	err := coordinator.FirstRefresh(context.Background())
	assert.ErrorIs(t, err, ErrCommunication)
	assert.Nil(t, coordinator.Snapshot())
}

func TestCoordinatorWithoutFetcher(t *testing.T) {
	coordinator := NewCoordinator(nil, 0, nil)
	assert.Equal(t, defaultRefreshInterval, coordinator.Interval())

	outcome := coordinator.Refresh(context.Background())
	assert.Equal(t, OutcomeAPIFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrAPI)
}

func TestCoordinatorAuthFailureStopsLoop(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: sampleSnapshot(100)},
		{err: &AuthenticationError{Reason: "invalid credentials", Status: 401}},
	}}
	coordinator := NewCoordinator(fetcher, 5*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, coordinator.FirstRefresh(context.Background()))

	coordinator.Start(context.Background())
	t.Cleanup(coordinator.Stop)

	select {
	case <-coordinator.AuthFailed():
	case <-time.After(2 * time.Second):
		t.Fatal("auth failure was not signalled")
	}

	require.Eventually(t, func() bool { return !coordinator.Stats().Running }, 2*time.Second, 5*time.Millisecond)
	calls := fetcher.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, fetcher.Calls(), "loop kept polling after auth failure")

	stats := coordinator.Stats()
	assert.True(t, stats.AuthFailed)
	assert.Equal(t, OutcomeAuthFailed, stats.Last.Kind)
	assert.False(t, stats.Last.Kind.Transient())
	assert.NotNil(t, coordinator.Snapshot())
}

func TestCoordinatorRebindClearsAuthFailure(t *testing.T) {
	rejected := &scriptedFetcher{results: []fetchResult{{err: &AuthenticationError{Reason: "invalid credentials"}}}}
	coordinator := NewCoordinator(rejected, time.Hour, zaptest.NewLogger(t))

	outcome := coordinator.Refresh(context.Background())
	require.Equal(t, OutcomeAuthFailed, outcome.Kind)
	failed := coordinator.AuthFailed()
	select {
	case <-failed:
	default:
		t.Fatal("AuthFailed channel not closed")
	}

	fresh := sampleSnapshot(90)
	coordinator.Rebind(&scriptedFetcher{results: []fetchResult{{snapshot: fresh}}})
	assert.False(t, coordinator.Stats().AuthFailed)
	select {
	case <-coordinator.AuthFailed():
		t.Fatal("AuthFailed channel still closed after Rebind")
	default:
	}

	require.NoError(t, coordinator.FirstRefresh(context.Background()))
	assert.Same(t, fresh, coordinator.Snapshot())
}

func TestCoordinatorRefreshesNeverOverlap(t *testing.T) {
	var active, peak int32
	fetcher := fetchFunc(func(context.Context) (*Snapshot, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return sampleSnapshot(1), nil
	})
	coordinator := NewCoordinator(fetcher, time.Millisecond, zaptest.NewLogger(t))
	coordinator.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coordinator.Refresh(context.Background())
		}()
	}
	wg.Wait()
	coordinator.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestCoordinatorLoopPolls(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{{snapshot: sampleSnapshot(100)}}}
	coordinator := NewCoordinator(fetcher, 5*time.Millisecond, zaptest.NewLogger(t))

	coordinator.Start(context.Background())
	assert.True(t, coordinator.Stats().Running)
	require.Eventually(t, func() bool { return fetcher.Calls() >= 3 }, 2*time.Second, 5*time.Millisecond)

	coordinator.Stop()
	assert.False(t, coordinator.Stats().Running)
	calls := fetcher.Calls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, fetcher.Calls())
}

func TestCoordinatorStopWaitsForInflightFetch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var ctxErr atomic.Value
	var once sync.Once
	fetcher := fetchFunc(func(ctx context.Context) (*Snapshot, error) {
		once.Do(func() { close(entered) })
		<-release
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		return sampleSnapshot(50), nil
	})
	coordinator := NewCoordinator(fetcher, 5*time.Millisecond, zaptest.NewLogger(t))
	coordinator.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("loop never fetched")
	}

	stopped := make(chan struct{})
	go func() {
		coordinator.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a fetch was in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the fetch finished")
	}
	assert.Nil(t, ctxErr.Load(), "in-flight fetch context was cancelled")
	assert.NotNil(t, coordinator.Snapshot())
}

func TestCoordinatorNotifiesListeners(t *testing.T) {
	fetcher := &scriptedFetcher{results: []fetchResult{
		{snapshot: sampleSnapshot(100)},
		{err: &CommunicationError{Reason: "error fetching information"}},
	}}
	coordinator := NewCoordinator(fetcher, time.Hour, zaptest.NewLogger(t))

	var got []*Snapshot
	unsubscribe := coordinator.OnUpdate(func(s *Snapshot) { got = append(got, s) })

	coordinator.Refresh(context.Background())
	coordinator.Refresh(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "123", got[0].UID)

	unsubscribe()
	fetcher.mu.Lock()
	fetcher.results = []fetchResult{{snapshot: sampleSnapshot(80)}}
	fetcher.calls = 0
	fetcher.mu.Unlock()
	coordinator.Refresh(context.Background())
	assert.Len(t, got, 1)
}

func TestOutcomeKindStrings(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "auth_failed", OutcomeAuthFailed.String())
	assert.Equal(t, "communication_failed", OutcomeCommunicationFailed.String())
	assert.Equal(t, "api_failed", OutcomeAPIFailed.String())
	assert.Equal(t, "none", OutcomeNone.String())
	assert.False(t, OutcomeSuccess.Transient())
}

func TestCoordinatorKeepsSnapshotWhenRequestTimesOut(t *testing.T) {
	fake := newFakeEasyView(t)
	fake.setStatuses(
		reply{status: http.StatusOK, body: statusOK},
		reply{status: http.StatusOK, body: statusOK, delay: 2 * time.Second},
	)
	client := newTestClient(t, fake.URL(), WithRequestTimeout(50*time.Millisecond))
	session, err := client.Login(context.Background())
	require.NoError(t, err)

	coordinator := NewCoordinator(session, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, coordinator.FirstRefresh(context.Background()))
	first := coordinator.Snapshot()
	require.NotNil(t, first)

	outcome := coordinator.Refresh(context.Background())
	assert.Equal(t, OutcomeCommunicationFailed, outcome.Kind)
	assert.ErrorIs(t, outcome.Err, ErrCommunication)
	assert.Less(t, outcome.Duration, time.Second)
	assert.Same(t, first, coordinator.Snapshot())

	stats := coordinator.Stats()
	assert.Equal(t, OutcomeCommunicationFailed, stats.Last.Kind)
	assert.Equal(t, uint64(1), stats.Cycles[OutcomeSuccess])
}

func TestCoordinatorListenersDoNotHoldCycleLock(t *testing.T) {
	latest := sampleSnapshot(90)
	fetcher := &scriptedFetcher{results: []fetchResult{{snapshot: sampleSnapshot(100)}, {snapshot: latest}}}
	coordinator := NewCoordinator(fetcher, time.Hour, zaptest.NewLogger(t))

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	coordinator.OnUpdate(func(*Snapshot) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
	})

	first := make(chan Outcome, 1)
	go func() { first <- coordinator.Refresh(context.Background()) }()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener not called")
	}

	second := make(chan Outcome, 1)
	go func() { second <- coordinator.Refresh(context.Background()) }()
	select {
	case outcome := <-second:
		assert.Equal(t, OutcomeSuccess, outcome.Kind)
	case <-time.After(2 * time.Second):
		close(release)
		t.Fatal("refresh blocked behind a slow listener")
	}
	assert.Same(t, latest, coordinator.Snapshot())

	close(release)
	assert.Equal(t, OutcomeSuccess, (<-first).Kind)
	assert.Equal(t, int32(2), calls.Load())
}
