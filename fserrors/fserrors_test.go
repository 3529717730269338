package fserrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errUseOfClosedNetworkConnection = errors.New("use of closed network connection")

type temporaryError struct{}

func (e *temporaryError) Error() string   { return "temporary" }
func (e *temporaryError) Temporary() bool { return true }

func TestRetryError(t *testing.T) {
	err := RetryError(io.EOF)
	assert.True(t, IsRetryError(err))
	assert.Equal(t, io.EOF, errors.Unwrap(err))

	wrapped := fmt.Errorf("potato: %w", err)
	assert.True(t, IsRetryError(wrapped))

	assert.False(t, IsRetryError(io.EOF))
	assert.False(t, IsRetryError(nil))

	err = RetryErrorf("potato %d", 42)
	assert.True(t, IsRetryError(err))
	assert.Equal(t, "potato 42", err.Error())
}

func TestFatalError(t *testing.T) {
	err := FatalError(io.EOF)
	assert.True(t, IsFatalError(err))
	assert.False(t, IsFatalError(io.EOF))
}

func TestNoRetryError(t *testing.T) {
	err := NoRetryError(io.EOF)
	assert.True(t, IsNoRetryError(err))
	assert.False(t, ShouldRetry(err))
}

func TestShouldRetry(t *testing.T) {
	for i, test := range []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("potato"), false},
		{io.EOF, true},
		{io.ErrUnexpectedEOF, true},
		{fmt.Errorf("connection: %w", errUseOfClosedNetworkConnection), true},
		{&url.Error{Op: "post", URL: "/", Err: io.EOF}, true},
		{&temporaryError{}, true},
		{fmt.Errorf("wrapped: %w", &temporaryError{}), true},
		{context.Canceled, false},
		{fmt.Errorf("op: %w", context.Canceled), false},
		{errors.New("broken pipe"), true},
	} {
		got := ShouldRetry(test.err)
		assert.Equal(t, test.want, got, fmt.Sprintf("test #%d: %v", i, test.err))
	}
}

func TestShouldRetryHTTP(t *testing.T) {
	assert.True(t, ShouldRetryHTTP(429))
	assert.True(t, ShouldRetryHTTP(500))
	assert.True(t, ShouldRetryHTTP(503))
	assert.False(t, ShouldRetryHTTP(200))
	assert.False(t, ShouldRetryHTTP(404))
	assert.False(t, ShouldRetryHTTP(400))
}

func TestContextError(t *testing.T) {
	var err = io.EOF
	ctx, cancel := context.WithCancel(context.Background())

	assert.False(t, ContextError(ctx, &err))
	assert.Equal(t, io.EOF, err)

	cancel()

	assert.True(t, ContextError(ctx, &err))
	assert.Equal(t, io.EOF, err)

	err = nil

	assert.True(t, ContextError(ctx, &err))
	assert.Equal(t, context.Canceled, err)
}
