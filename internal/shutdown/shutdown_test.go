package shutdown

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shepherd-project/corral/internal/logger"
)

func newTestManager(timeout time.Duration) *Manager {
	return NewManager(timeout, logger.NewWriterLogger(io.Discard, "error", false))
}

func TestHooksRunInPriorityOrder(t *testing.T) {
	m := newTestManager(time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	m.Register("storage", record("storage"), PriorityNormal)
	m.Register("http", record("http"), PriorityCritical)
	m.Register("kernel", record("kernel"), PriorityHigh)
	m.Register("logs", record("logs"), PriorityLow)
	m.Register("metrics", record("metrics"), PriorityNormal)

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"http", "kernel", "storage", "metrics", "logs"}, order)
}

func TestShutdownRunsOnce(t *testing.T) {
	m := newTestManager(time.Second)
	calls := 0
	m.Register("once", func(context.Context) error {
		calls++
		return nil
	}, PriorityNormal)

	require.NoError(t, m.Shutdown())
	require.NoError(t, m.Shutdown())
	assert.Equal(t, 1, calls)
}

func TestHookErrorsAndTimeouts(t *testing.T) {
	m := newTestManager(20 * time.Millisecond)
	boom := errors.New("boom")

	m.Register("fails", func(context.Context) error { return boom }, PriorityCritical)
	m.Register("hangs", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	}, PriorityHigh)
	ran := false
	m.Register("after", func(context.Context) error {
		ran = true
		return nil
	}, PriorityLow)

	err := m.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, ran, "later hooks still run")
}

func TestStopTriggersShutdown(t *testing.T) {
	m := newTestManager(time.Second)
	m.Register("noop", func(context.Context) error { return nil }, PriorityNormal)
	m.Start()
	m.Start()

	m.Stop()
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.NoError(t, m.Wait())
}
