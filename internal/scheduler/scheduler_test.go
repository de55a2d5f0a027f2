package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

type fakeReconciler struct {
	mu       sync.Mutex
	sweeps   []time.Time
	polls    []int
	sweepErr error
}

func (f *fakeReconciler) SweepExpired(_ context.Context, now time.Time) (service.SweepReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps = append(f.sweeps, now)
	return service.SweepReport{Orders: 1}, f.sweepErr
}

func (f *fakeReconciler) Poll(_ context.Context, limit int) (service.PollReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls = append(f.polls, limit)
	return service.PollReport{Seen: limit}, nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	released []string
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: make(map[string]string)} }

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.held[key] = "token-" + key
	return l.held[key], true, nil
}

func (l *fakeLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	l.released = append(l.released, key)
	return nil
}

func newTestScheduler(t *testing.T, cfg Config, rec Reconciler, locker Locker) (*Scheduler, *prometheus.Registry, *clock.FakeClock) {
	t.Helper()
	reg := prometheus.NewRegistry()
	clk := clock.NewFakeClock(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	s, err := New(cfg, rec, locker, clk, metrics.New(reg), zap.NewNop())
	require.NoError(t, err)
	return s, reg, clk
}

// assertOnlyJobRun checks that job_runs_total holds exactly one series.
func assertOnlyJobRun(t *testing.T, reg *prometheus.Registry, job, result string) {
	t.Helper()
	expected := fmt.Sprintf(`# HELP raffle_job_runs_total Scheduled job runs by job and result.
# TYPE raffle_job_runs_total counter
raffle_job_runs_total{job=%q,result=%q} 1
`, job, result)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "raffle_job_runs_total"))
}

func TestRunSweepUsesClockAndLock(t *testing.T) {
	rec := &fakeReconciler{}
	locker := newFakeLocker()
	s, reg, clk := newTestScheduler(t, Config{SweepSchedule: "@every 1m"}, rec, locker)

	require.NoError(t, s.RunSweep(context.Background()))
	require.Len(t, rec.sweeps, 1)
	assert.Equal(t, clk.Now(), rec.sweeps[0])
	assert.Equal(t, []string{"raffle:jobs:sweep"}, locker.released)
	assertOnlyJobRun(t, reg, JobSweep, "ok")
}

func TestJobSkippedWhenAnotherInstanceHoldsLock(t *testing.T) {
	rec := &fakeReconciler{}
	locker := newFakeLocker()
	locker.held["raffle:jobs:poll"] = "other"
	s, reg, _ := newTestScheduler(t, Config{}, rec, locker)

	require.NoError(t, s.RunPoll(context.Background()))
	assert.Empty(t, rec.polls)
	assertOnlyJobRun(t, reg, JobPoll, "skipped")
}

func TestRunPollWithoutLocker(t *testing.T) {
	rec := &fakeReconciler{}
	s, _, _ := newTestScheduler(t, Config{PollLimit: 25}, rec, nil)

	require.NoError(t, s.RunPoll(context.Background()))
	assert.Equal(t, []int{25}, rec.polls)
}

func TestJobErrorIsReported(t *testing.T) {
	rec := &fakeReconciler{sweepErr: errors.New("db down")}
	s, reg, _ := newTestScheduler(t, Config{}, rec, newFakeLocker())

	err := s.RunSweep(context.Background())
	assert.ErrorContains(t, err, "db down")
	assertOnlyJobRun(t, reg, JobSweep, "error")
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(Config{SweepSchedule: "every minute"}, &fakeReconciler{}, nil, nil, nil, zap.NewNop())
	assert.Error(t, err)
	_, err = New(Config{}, nil, nil, nil, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestScheduler(t, Config{SweepSchedule: "@every 1h", PollSchedule: "@every 1h"}, &fakeReconciler{}, nil)
	assert.Len(t, s.cron.Entries(), 2)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
