package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "worker")
		panic("boom")
	})
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "worker")
}

func TestRecoverPanicWithCallback(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})

	called := false
	assert.NotPanics(t, func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
		panic("boom")
	})
	assert.True(t, called)
}

func TestRecoverPanicWithCallback_NoPanic(t *testing.T) {
	logger := NewLogger(ErrorLevel, &bytes.Buffer{})

	called := false
	func() {
		defer RecoverPanicWithCallback(logger, "worker", func() { called = true })
	}()
	assert.False(t, called)
}

func TestMustRecover(t *testing.T) {
	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("boom"), "panic: boom")
}
