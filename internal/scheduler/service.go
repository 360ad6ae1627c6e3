package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feedwatch/feedwatch/internal/metrics"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/monitoring"
	"github.com/feedwatch/feedwatch/internal/notifications"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotRunning is returned for targets without an active loop.
	ErrNotRunning = errors.New("target is not running")
	// ErrAlreadyRunning is returned by Start for a target that already has a loop.
	ErrAlreadyRunning = errors.New("target is already running")
)

// CycleRunner runs one poll cycle for a target.
type CycleRunner interface {
	RunCycle(ctx context.Context, target models.Target) (*monitoring.CycleSummary, error)
}

// Options tune the polling loops.
type Options struct {
	MinInterval       time.Duration
	FallbackDelay     time.Duration
	HeartbeatSchedule string // cron spec with seconds field, empty disables the heartbeat
	HeartbeatChannel  string
}

// Service owns one polling goroutine per target.
type Service struct {
	runner CycleRunner
	sink   notifications.Sink
	opts   Options
	cron   *cron.Cron

	mu       sync.Mutex
	loops    map[string]*loop
	statuses map[string]*models.TargetStatus
}

type loop struct {
	target   models.Target
	cancel   context.CancelFunc
	done     chan struct{}
	checkNow chan chan checkResult
}

type checkResult struct {
	summary *monitoring.CycleSummary
	err     error
}

// NewService creates a new scheduler service
func NewService(runner CycleRunner, sink notifications.Sink, opts Options) *Service {
	if opts.MinInterval <= 0 {
		opts.MinInterval = time.Minute
	}
	if opts.FallbackDelay <= 0 {
		opts.FallbackDelay = time.Minute
	}
	return &Service{
		runner:   runner,
		sink:     sink,
		opts:     opts,
		cron:     cron.New(cron.WithSeconds()),
		loops:    make(map[string]*loop),
		statuses: make(map[string]*models.TargetStatus),
	}
}

// StartHeartbeat schedules the periodic "monitor alive" message, if configured.
func (s *Service) StartHeartbeat() error {
	if s.opts.HeartbeatSchedule == "" || s.opts.HeartbeatChannel == "" {
		return nil
	}

	_, err := s.cron.AddFunc(s.opts.HeartbeatSchedule, func() {
		if err := s.SendHeartbeat(context.Background()); err != nil {
			logrus.Errorf("Heartbeat failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid heartbeat schedule %q: %w", s.opts.HeartbeatSchedule, err)
	}

	s.cron.Start()
	logrus.Infof("Heartbeat scheduled with %q", s.opts.HeartbeatSchedule)
	return nil
}

// SendHeartbeat sends one heartbeat message with the health of every known target.
func (s *Service) SendHeartbeat(ctx context.Context) error {
	var health []notifications.TargetHealth
	for _, st := range s.Statuses() {
		health = append(health, notifications.TargetHealth{
			TargetID:    st.TargetID,
			LastSuccess: st.LastSuccess,
			LastError:   st.LastError,
		})
	}
	return s.sink.Send(ctx, s.opts.HeartbeatChannel, notifications.Heartbeat(time.Now(), health))
}

// Start launches the polling loop of target.
func (s *Service) Start(target models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.loops[target.ID]; ok {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &loop{
		target:   target,
		cancel:   cancel,
		done:     make(chan struct{}),
		checkNow: make(chan chan checkResult),
	}
	s.loops[target.ID] = l

	st := s.statusLocked(target.ID)
	st.State = models.StateIdle
	st.Interval = s.interval(target).String()

	metrics.RunningTargets.Inc()
	go s.run(ctx, l)

	logrus.WithFields(logrus.Fields{
		"target":   target.ID,
		"interval": st.Interval,
	}).Info("Target monitoring started")
	return nil
}

// Update replaces the configuration of a running target. It takes effect from the next cycle.
func (s *Service) Update(target models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loops[target.ID]
	if !ok {
		return ErrNotRunning
	}
	l.target = target
	s.statusLocked(target.ID).Interval = s.interval(target).String()
	return nil
}

// Stop cancels the loop of a target and waits until it has exited. An in-flight
// request is allowed to finish first.
func (s *Service) Stop(targetID string) error {
	s.mu.Lock()
	l, ok := s.loops[targetID]
	s.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}

	// The loop stays registered until it has exited so Start cannot overlap it.
	l.cancel()
	<-l.done

	s.mu.Lock()
	removed := s.loops[targetID] == l
	if removed {
		delete(s.loops, targetID)
	}
	s.mu.Unlock()
	if !removed {
		return ErrNotRunning
	}

	metrics.RunningTargets.Dec()
	logrus.WithField("target", targetID).Info("Target monitoring stopped")
	return nil
}

// StopAll cancels every loop and the heartbeat.
func (s *Service) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		_ = s.Stop(id)
	}

	<-s.cron.Stop().Done()
	logrus.Info("Scheduler stopped")
}

// Apply reconciles running loops with targets: disabled or removed targets are
// stopped, new enabled ones started and the rest updated in place.
func (s *Service) Apply(targets []models.Target) {
	wanted := make(map[string]models.Target, len(targets))
	for _, t := range targets {
		if t.Enabled {
			wanted[t.ID] = t
		}
	}

	for _, id := range s.Running() {
		if _, ok := wanted[id]; !ok {
			_ = s.Stop(id)
		}
	}

	for _, t := range wanted {
		if err := s.Update(t); errors.Is(err, ErrNotRunning) {
			err = s.Start(t)
			if errors.Is(err, ErrAlreadyRunning) {
				err = s.Update(t)
			}
			if err != nil {
				logrus.WithField("target", t.ID).WithError(err).Error("Failed to start target")
			}
		}
	}
}

// Running lists the ids of targets with an active loop.
func (s *Service) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TriggerNow asks the loop of a target to run a cycle immediately and waits for its
// summary. A request made while a cycle is running is served once that cycle ends, so
// two cycles of one target never overlap.
func (s *Service) TriggerNow(ctx context.Context, targetID string) (*monitoring.CycleSummary, error) {
	s.mu.Lock()
	l, ok := s.loops[targetID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotRunning
	}

	reply := make(chan checkResult, 1)
	select {
	case l.checkNow <- reply:
	case <-l.done:
		return nil, ErrNotRunning
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.summary, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns a copy of a target's status.
func (s *Service) Status(targetID string) (models.TargetStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[targetID]
	if !ok {
		return models.TargetStatus{}, false
	}
	return *st, true
}

// Statuses returns a copy of every known status, sorted by target id.
func (s *Service) Statuses() []models.TargetStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TargetStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

func (s *Service) run(ctx context.Context, l *loop) {
	defer close(l.done)

	var reply chan checkResult
	for {
		s.mu.Lock()
		target := l.target
		s.mu.Unlock()

		summary, err := s.cycle(ctx, target)
		if reply != nil {
			reply <- checkResult{summary: summary, err: err}
			reply = nil
		}

		if ctx.Err() != nil {
			s.setState(target.ID, models.StateCancelled, time.Time{})
			return
		}

		delay := s.interval(target)
		if monitoring.NeedsBackoff(err) {
			delay = max(delay, s.opts.FallbackDelay)
		}
		s.setState(target.ID, models.StateSleeping, time.Now().Add(delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(target.ID, models.StateCancelled, time.Time{})
			return
		case <-timer.C:
		case reply = <-l.checkNow:
			timer.Stop()
		}
	}
}

// cycle runs one cycle and records its outcome. Panics are converted to errors so
// that a single bad cycle never ends the loop.
func (s *Service) cycle(ctx context.Context, target models.Target) (summary *monitoring.CycleSummary, err error) {
	start := time.Now()
	s.mu.Lock()
	st := s.statusLocked(target.ID)
	st.State = models.StatePolling
	st.LastCycleStart = start.UTC()
	st.NextRun = time.Time{}
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll cycle: %v", r)
		}

		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithFields(logrus.Fields{
				"target": target.ID,
				"phase":  "cycle",
			}).WithError(err).Error("Poll cycle failed")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		st := s.statusLocked(target.ID)
		st.Cycles++
		switch {
		case err == nil:
			st.LastSuccess = time.Now().UTC()
			st.ConsecutiveFailures = 0
		case errors.Is(err, context.Canceled):
		default:
			st.LastError = err.Error()
			st.LastErrorAt = time.Now().UTC()
			st.ConsecutiveFailures++
		}
	}()

	return s.runner.RunCycle(ctx, target)
}

// interval applies the minimum polling interval.
func (s *Service) interval(target models.Target) time.Duration {
	if target.Interval < s.opts.MinInterval {
		return s.opts.MinInterval
	}
	return target.Interval
}

func (s *Service) setState(targetID string, state models.TargetState, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statusLocked(targetID)
	st.State = state
	st.NextRun = next
}

func (s *Service) statusLocked(targetID string) *models.TargetStatus {
	st, ok := s.statuses[targetID]
	if !ok {
		st = &models.TargetStatus{TargetID: targetID, State: models.StateIdle}
		s.statuses[targetID] = st
	}
	return st
}
