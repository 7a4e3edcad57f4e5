package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expensia/internal/clock"
)

type harness struct {
	clock   *clock.Fake
	sched   *Scheduler
	backups atomic.Int32
	gateOn  atomic.Bool
	gates   atomic.Int32
	failing atomic.Bool
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: clock.NewFake(time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC))}
	h.gateOn.Store(true)

	backup := func(context.Context) error {
		h.backups.Add(1)
		if h.failing.Load() {
			return errors.New("remote unavailable")
		}
		return nil
	}
	gate := func(context.Context) bool {
		h.gates.Add(1)
		return h.gateOn.Load()
	}
	h.sched = New(backup, gate, h.clock, DefaultConfig())

	require.NoError(t, h.sched.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.sched.Stop(ctx)
	})
	return h
}

func TestDebounceSingleChange(t *testing.T) {
	h := newHarness(t)

	h.sched.NotifyChange()
	h.clock.Advance(4900 * time.Millisecond)
	assert.Zero(t, h.backups.Load())
	assert.Equal(t, 1, h.clock.Pending())

	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, int32(1), h.backups.Load())
	assert.Zero(t, h.clock.Pending())
}

func TestDebounceCoalescesBurst(t *testing.T) {
	h := newHarness(t)

	h.sched.NotifyChange()
	h.clock.Advance(2 * time.Second)
	h.sched.NotifyChange()
	h.clock.Advance(2 * time.Second)
	h.sched.NotifyChange()

	h.clock.Advance(4900 * time.Millisecond)
	assert.Zero(t, h.backups.Load(), "quiet period restarts on every change")

	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, int32(1), h.backups.Load())
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(10 * time.Second)
	assert.Equal(t, int32(1), h.backups.Load())
}

func TestDebounceReadsGateAtFireTime(t *testing.T) {
	h := newHarness(t)

	// Closed when the change happens, open when the timer fires.
	h.gateOn.Store(false)
	h.sched.NotifyChange()
	h.gateOn.Store(true)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, int32(1), h.backups.Load())

	// Open when the change happens, closed when the timer fires.
	h.sched.NotifyChange()
	h.gateOn.Store(false)
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, int32(1), h.backups.Load())
}

func TestPeriodicBackup(t *testing.T) {
	h := newHarness(t)

	h.clock.Advance(59 * time.Minute)
	assert.Zero(t, h.gates.Load())

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return h.backups.Load() == 1 }, time.Second, time.Millisecond)

	h.gateOn.Store(false)
	h.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return h.gates.Load() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), h.backups.Load())
}

func TestFailuresAreSwallowed(t *testing.T) {
	h := newHarness(t)
	h.failing.Store(true)

	h.sched.NotifyChange()
	h.clock.Advance(5 * time.Second)
	h.sched.NotifyChange()
	h.clock.Advance(5 * time.Second)

	assert.Equal(t, int32(2), h.backups.Load())
	assert.True(t, h.sched.IsRunning())
}

func TestStopCancelsPendingBackup(t *testing.T) {
	h := newHarness(t)

	h.sched.NotifyChange()
	require.Equal(t, 1, h.clock.Pending())

	require.NoError(t, h.sched.Stop(context.Background()))
	assert.False(t, h.sched.IsRunning())
	assert.Zero(t, h.clock.Pending())

	h.clock.Advance(2 * time.Hour)
	h.sched.NotifyChange()
	h.clock.Advance(5 * time.Second)
	assert.Zero(t, h.backups.Load())
}

func TestStartTwice(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.sched.Start(context.Background()))
}

func TestRestartAfterStop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Stop(context.Background()))
	require.NoError(t, h.sched.Start(context.Background()))

	h.sched.NotifyChange()
	h.clock.Advance(5 * time.Second)
	assert.Equal(t, int32(1), h.backups.Load())
}

type stubFlags struct {
	on  bool
	err error
}

func (s stubFlags) AutoBackupEnabled(context.Context) (bool, error) { return s.on, s.err }

type stubAuth struct {
	ok  bool
	err error
}

func (s stubAuth) IsAuthenticated(context.Context) (bool, error) { return s.ok, s.err }

func TestEnabledGate(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		flags stubFlags
		auth  stubAuth
		want  bool
	}{
		{name: "enabled and signed in", flags: stubFlags{on: true}, auth: stubAuth{ok: true}, want: true},
		{name: "disabled", flags: stubFlags{on: false}, auth: stubAuth{ok: true}},
		{name: "signed out", flags: stubFlags{on: true}, auth: stubAuth{ok: false}},
		{name: "flag read error", flags: stubFlags{err: boom}, auth: stubAuth{ok: true}},
		{name: "auth read error", flags: stubFlags{on: true}, auth: stubAuth{err: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Enabled(tt.flags, tt.auth)(context.Background()))
		})
	}
}

func TestBeforeRefreshesFirst(t *testing.T) {
	var order []string
	gate := Before(
		func(context.Context) error { order = append(order, "prepare"); return nil },
		func(context.Context) bool { order = append(order, "gate"); return true },
	)
	assert.True(t, gate(context.Background()))
	assert.Equal(t, []string{"prepare", "gate"}, order)

	failing := Before(
		func(context.Context) error { return errors.New("reload failed") },
		func(context.Context) bool { t.Fatal("gate must not run"); return true },
	)
	assert.False(t, failing(context.Background()))
}
