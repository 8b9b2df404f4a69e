package service

import (
	"bytes"
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncDispatcherRunsInline(t *testing.T) {
	ran := false
	SyncDispatcher{}.Dispatch(func(ctx context.Context) { ran = true })
	assert.True(t, ran)
}

func TestAsyncDispatcherDefaultLimit(t *testing.T) {
	d := NewAsyncDispatcher(0, nil, nil)
	assert.True(t, d.sem.TryAcquire(DefaultUsageWorkers))
	assert.False(t, d.sem.TryAcquire(1))
	d.sem.Release(DefaultUsageWorkers)
}

func TestAsyncDispatcherWait(t *testing.T) {
	d := NewAsyncDispatcher(8, nil, nil)

	var n atomic.Int32
	for i := 0; i < 20; i++ {
		d.Dispatch(func(ctx context.Context) {
			time.Sleep(time.Millisecond)
			n.Add(1)
		})
	}
	d.Wait()
	// Some tasks may have been dropped while 8 were in flight.
	assert.GreaterOrEqual(t, n.Load(), int32(8))
	assert.LessOrEqual(t, n.Load(), int32(20))
}

func TestAsyncDispatcherDropsOverLimit(t *testing.T) {
	var logs bytes.Buffer
	d := NewAsyncDispatcher(1, slog.New(slog.NewTextHandler(&logs, nil)), nil)

	release := make(chan struct{})
	started := make(chan struct{})
	d.Dispatch(func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	var ran atomic.Bool
	d.Dispatch(func(ctx context.Context) { ran.Store(true) })

	close(release)
	d.Wait()
	assert.False(t, ran.Load(), "task over the limit must be dropped")
	assert.Contains(t, logs.String(), "usage accounting dropped")
}

func TestAsyncDispatcherDetachesContext(t *testing.T) {
	d := NewAsyncDispatcher(0, nil, nil)

	var deadline atomic.Bool
	d.Dispatch(func(ctx context.Context) {
		_, ok := ctx.Deadline()
		deadline.Store(ok && ctx.Err() == nil)
	})
	d.Wait()
	assert.True(t, deadline.Load(), "tasks get a live context with their own deadline")
}

func TestAsyncDispatcherRecoversPanic(t *testing.T) {
	var logs bytes.Buffer
	d := NewAsyncDispatcher(2, slog.New(slog.NewTextHandler(&logs, nil)), nil)

	d.Dispatch(func(ctx context.Context) { panic("boom") })
	d.Wait()
	assert.Contains(t, logs.String(), "usage accounting panicked")

	var ran atomic.Bool
	d.Dispatch(func(ctx context.Context) { ran.Store(true) })
	d.Wait()
	assert.True(t, ran.Load(), "slot is released after a panic")
}
