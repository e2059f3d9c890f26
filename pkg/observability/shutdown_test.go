package observability

import (
	"context"
	"io"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsRegisteredFuncs(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	manager := NewShutdownManager(logger, 5*time.Second)

	var calls int32
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- manager.WaitForShutdown()
	}()

	// Give WaitForShutdown time to install its signal handler.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestShutdownManager_ReportsFuncErrors(t *testing.T) {
	logger := NewLogger(ErrorLevel, io.Discard)
	manager := NewShutdownManager(logger, 5*time.Second)
	manager.RegisterShutdownFunc(func(ctx context.Context) error {
		return assert.AnError
	})

	done := make(chan error, 1)
	go func() {
		done <- manager.WaitForShutdown()
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	manager := NewShutdownManager(NewLogger(ErrorLevel, io.Discard), 0)
	assert.Equal(t, 30*time.Second, manager.shutdownTimeout)
}
