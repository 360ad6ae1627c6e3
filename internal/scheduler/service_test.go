package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/monitoring"
	"github.com/feedwatch/feedwatch/internal/notifications"
	"github.com/feedwatch/feedwatch/internal/seenstate"
	"github.com/feedwatch/feedwatch/internal/sources"
	"github.com/feedwatch/feedwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// blockingRunner holds every cycle until released and records concurrency.
type blockingRunner struct {
	release  chan struct{}
	started  chan string
	active   int32
	overlaps int32
	calls    int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{}), started: make(chan string, 16)}
}

func (b *blockingRunner) RunCycle(ctx context.Context, target models.Target) (*monitoring.CycleSummary, error) {
	if atomic.AddInt32(&b.active, 1) > 1 {
		atomic.AddInt32(&b.overlaps, 1)
	}
	defer atomic.AddInt32(&b.active, -1)
	atomic.AddInt32(&b.calls, 1)

	b.started <- target.ID
	<-b.release
	return &monitoring.CycleSummary{TargetID: target.ID}, nil
}

// funcRunner adapts a function to CycleRunner.
type funcRunner func(ctx context.Context, target models.Target) (*monitoring.CycleSummary, error)

func (f funcRunner) RunCycle(ctx context.Context, target models.Target) (*monitoring.CycleSummary, error) {
	return f(ctx, target)
}

// MockSink is a mock implementation of the notification sink
type MockSink struct {
	mock.Mock
}

func (m *MockSink) Send(ctx context.Context, channelRef string, msg notifications.Message) error {
	args := m.Called(channelRef, msg)
	return args.Error(0)
}

func target(id string) models.Target {
	return models.Target{ID: id, Enabled: true, Interval: time.Hour}
}

func TestService_TriggerNowNeverOverlaps(t *testing.T) {
	runner := newBlockingRunner()
	svc := NewService(runner, &MockSink{}, Options{MinInterval: time.Minute})
	require.NoError(t, svc.Start(target("guild-1")))

	<-runner.started // first cycle is in flight

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.TriggerNow(context.Background(), "guild-1")
			results <- err
		}()
	}

	// Give the triggers time to queue up behind the running cycle.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))

	for i := 0; i < 3; i++ {
		runner.release <- struct{}{}
		if i < 2 {
			<-runner.started
		}
	}
	wg.Wait()
	close(results)
	for err := range results {
		assert.NoError(t, err)
	}

	assert.Equal(t, int32(0), atomic.LoadInt32(&runner.overlaps))
	assert.Equal(t, int32(3), atomic.LoadInt32(&runner.calls))

	assert.Eventually(t, func() bool {
		st, _ := svc.Status("guild-1")
		return st.State == models.StateSleeping
	}, time.Second, 5*time.Millisecond)
	st, ok := svc.Status("guild-1")
	require.True(t, ok)
	assert.Equal(t, 3, st.Cycles)

	svc.StopAll()
	st, _ = svc.Status("guild-1")
	assert.Equal(t, models.StateCancelled, st.State)
}

func TestService_FailureUsesFallbackDelayAndRecordsStatus(t *testing.T) {
	tests := []struct {
		name string
		fail func()
	}{
		{"panic", func() { panic("boom") }},
		{"persistence", func() {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			runner := funcRunner(func(ctx context.Context, target models.Target) (*monitoring.CycleSummary, error) {
				atomic.AddInt32(&calls, 1)
				tt.fail()
				return nil, &monitoring.SourceError{SourceID: "patch_notes", Phase: "flush", Err: errors.New("disk full")}
			})

			svc := NewService(runner, &MockSink{}, Options{MinInterval: time.Millisecond, FallbackDelay: time.Hour})
			fast := target("guild-1")
			fast.Interval = 5 * time.Millisecond
			require.NoError(t, svc.Start(fast))
			defer svc.StopAll()

			assert.Eventually(t, func() bool {
				st, _ := svc.Status("guild-1")
				return st.State == models.StateSleeping
			}, time.Second, 5*time.Millisecond)

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "fallback delay replaces the short interval")

			st, ok := svc.Status("guild-1")
			require.True(t, ok)
			assert.Equal(t, 1, st.ConsecutiveFailures)
			assert.True(t, st.LastSuccess.IsZero())
			assert.NotEmpty(t, st.LastError)
			assert.True(t, st.NextRun.After(time.Now().Add(30*time.Minute)))
		})
	}
}

// failingSource always answers its listing with an upstream error.
type failingSource struct {
	calls int32
}

func (f *failingSource) Kind() models.SourceKind { return models.KindForum }
func (f *failingSource) NewestFirst() bool       { return true }

func (f *failingSource) List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error) {
	atomic.AddInt32(&f.calls, 1)
	return nil, &sources.FetchError{Source: "forum", URL: cfg.URL, StatusCode: 503}
}

func newFailingTarget(t *testing.T, interval, fallback time.Duration) (*Service, *failingSource) {
	t.Helper()
	src := &failingSource{}
	monitor := monitoring.NewService(sources.NewPoller(0, src), seenstate.NewStore(storage.NewMemoryStorage()), &MockSink{}, 0)
	svc := NewService(monitor, &MockSink{}, Options{MinInterval: time.Millisecond, FallbackDelay: fallback})

	tgt := target("guild-1")
	tgt.Interval = interval
	tgt.Sources = []models.SourceConfig{{ID: "patch_notes", Kind: models.KindForum, URL: "https://forum.example.com/", MaxHistory: 100}}
	require.NoError(t, svc.Start(tgt))
	t.Cleanup(svc.StopAll)
	return svc, src
}

func TestService_FetchFailureKeepsInterval(t *testing.T) {
	t.Run("short fallback does not speed up polling", func(t *testing.T) {
		svc, src := newFailingTarget(t, time.Hour, 5*time.Millisecond)

		assert.Eventually(t, func() bool {
			st, _ := svc.Status("guild-1")
			return st.State == models.StateSleeping
		}, time.Second, 5*time.Millisecond)
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls))

		st, _ := svc.Status("guild-1")
		assert.Contains(t, st.LastError, "503")
		assert.True(t, st.NextRun.After(time.Now().Add(30*time.Minute)))
	})

	t.Run("long fallback does not slow polling down", func(t *testing.T) {
		_, src := newFailingTarget(t, 10*time.Millisecond, time.Hour)

		assert.Eventually(t, func() bool {
			return atomic.LoadInt32(&src.calls) >= 3
		}, 2*time.Second, 5*time.Millisecond)
	})
}

func TestService_SuccessResetsFailures(t *testing.T) {
	var calls int32
	runner := funcRunner(func(ctx context.Context, target models.Target) (*monitoring.CycleSummary, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("flush failed")
		}
		return &monitoring.CycleSummary{}, nil
	})

	svc := NewService(runner, &MockSink{}, Options{MinInterval: time.Millisecond, FallbackDelay: time.Millisecond})
	fast := target("guild-1")
	fast.Interval = 5 * time.Millisecond
	require.NoError(t, svc.Start(fast))
	defer svc.StopAll()

	assert.Eventually(t, func() bool {
		st, _ := svc.Status("guild-1")
		return st.Cycles >= 2 && st.State == models.StateSleeping
	}, time.Second, 5*time.Millisecond)

	st, _ := svc.Status("guild-1")
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.False(t, st.LastSuccess.IsZero())
	assert.Equal(t, "flush failed", st.LastError)
	assert.Equal(t, (5 * time.Millisecond).String(), st.Interval)
}

func TestService_IntervalFloor(t *testing.T) {
	svc := NewService(funcRunner(nil), &MockSink{}, Options{MinInterval: time.Minute})
	assert.Equal(t, time.Minute, svc.interval(models.Target{Interval: time.Second}))
	assert.Equal(t, time.Hour, svc.interval(models.Target{Interval: time.Hour}))
}

func TestService_StartStopApply(t *testing.T) {
	runner := funcRunner(func(ctx context.Context, target models.Target) (*monitoring.CycleSummary, error) {
		return &monitoring.CycleSummary{}, nil
	})
	svc := NewService(runner, &MockSink{}, Options{})

	require.NoError(t, svc.Start(target("a")))
	assert.ErrorIs(t, svc.Start(target("a")), ErrAlreadyRunning)

	disabled := target("c")
	disabled.Enabled = false
	svc.Apply([]models.Target{target("b"), disabled})
	assert.Equal(t, []string{"b"}, svc.Running())

	assert.ErrorIs(t, svc.Stop("a"), ErrNotRunning)
	_, err := svc.TriggerNow(context.Background(), "c")
	assert.ErrorIs(t, err, ErrNotRunning)

	svc.StopAll()
	assert.Empty(t, svc.Running())
}

func TestService_SendHeartbeat(t *testing.T) {
	sink := &MockSink{}
	svc := NewService(funcRunner(nil), sink, Options{HeartbeatChannel: "log:heartbeat"})
	svc.mu.Lock()
	svc.statusLocked("guild-1").LastError = "boom"
	svc.mu.Unlock()

	sink.On("Send", "log:heartbeat", mock.MatchedBy(func(msg notifications.Message) bool {
		return len(msg.Fields) == 1 && msg.Fields[0].Name == "guild-1"
	})).Return(nil)

	require.NoError(t, svc.SendHeartbeat(context.Background()))
	sink.AssertExpectations(t)
}

func TestService_StartHeartbeatRejectsBadSchedule(t *testing.T) {
	svc := NewService(funcRunner(nil), &MockSink{}, Options{HeartbeatSchedule: "not a cron", HeartbeatChannel: "log:x"})
	assert.Error(t, svc.StartHeartbeat())

	svc = NewService(funcRunner(nil), &MockSink{}, Options{})
	assert.NoError(t, svc.StartHeartbeat())
}
