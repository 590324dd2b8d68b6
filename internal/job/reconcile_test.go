package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"creditledger/internal/service"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeSweeper struct {
	calls  int
	before time.Time
	limit  int
	err    error
}

func (f *fakeSweeper) ReconcilePending(_ context.Context, before time.Time, limit int) (service.SweepResult, error) {
	return f.sweep(before, limit)
}

func (f *fakeSweeper) ReconcileStale(_ context.Context, before time.Time, limit int) (service.SweepResult, error) {
	return f.sweep(before, limit)
}

func (f *fakeSweeper) sweep(before time.Time, limit int) (service.SweepResult, error) {
	f.calls++
	f.before = before
	f.limit = limit
	return service.SweepResult{Scanned: 1, Resolved: 1}, f.err
}

type fakeLock struct {
	acquire  bool
	err      error
	unlocked int
}

func (l *fakeLock) TryLock(context.Context) (bool, error) { return l.acquire, l.err }

func (l *fakeLock) Unlock(context.Context) error {
	l.unlocked++
	return nil
}

func TestReconcileJobRunOnce(t *testing.T) {
	events, confirmations := &fakeSweeper{}, &fakeSweeper{}
	l := &fakeLock{acquire: true}
	j := NewReconcileJob(events, confirmations, l, jobsConfig(), zap.NewNop())
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j.now = func() time.Time { return now }

	j.RunOnce(context.Background())

	assert.Equal(t, 1, events.calls)
	assert.Equal(t, 1, confirmations.calls)
	assert.Equal(t, now.Add(-time.Minute), events.before)
	assert.Equal(t, 5, events.limit)
	assert.Equal(t, 1, l.unlocked)
}

func TestReconcileJobSkipsWithoutLock(t *testing.T) {
	events, confirmations := &fakeSweeper{}, &fakeSweeper{}

	j := NewReconcileJob(events, confirmations, &fakeLock{acquire: false}, jobsConfig(), zap.NewNop())
	j.RunOnce(context.Background())

	j = NewReconcileJob(events, confirmations, &fakeLock{err: errors.New("redis down")}, jobsConfig(), zap.NewNop())
	j.RunOnce(context.Background())

	assert.Zero(t, events.calls)
	assert.Zero(t, confirmations.calls)
}

func TestReconcileJobContinuesAfterEventSweepError(t *testing.T) {
	events := &fakeSweeper{err: errors.New("db down")}
	confirmations := &fakeSweeper{}

	j := NewReconcileJob(events, confirmations, nil, jobsConfig(), zap.NewNop())
	j.RunOnce(context.Background())

	assert.Equal(t, 1, confirmations.calls)
}
