package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransport = errors.New("transport")
	errNotFound  = errors.New("not found")
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := New(cfg)
	cb.now = clock.Now
	cb.stateChangeTime = clock.Now()
	return cb, clock
}

func fail(cb *CircuitBreaker, err error) error {
	return cb.Execute(context.Background(), func() error { return err })
}

func TestCircuitBreaker_PassesErrorsThrough(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	err := fail(cb, errTransport)
	assert.Same(t, errTransport, err)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cb, _ := newTestBreaker(cfg)

	for i := 0; i < 3; i++ {
		_ = fail(cb, errTransport)
	}
	require.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_IsFailureFilter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.IsFailure = func(err error) bool { return errors.Is(err, errTransport) }
	cb, _ := newTestBreaker(cfg)

	_ = fail(cb, errNotFound)
	assert.Equal(t, StateClosed, cb.GetState())

	_ = fail(cb, errTransport)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Second, MaxRequestsHalfOpen: 1}
	cb, clock := newTestBreaker(cfg)

	_ = fail(cb, errTransport)
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(2 * time.Second)
	require.NoError(t, fail(cb, nil))
	assert.Equal(t, StateHalfOpen, cb.GetState())

	require.NoError(t, fail(cb, nil))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, MaxRequestsHalfOpen: 1}
	cb, clock := newTestBreaker(cfg)

	_ = fail(cb, errTransport)
	clock.Advance(2 * time.Second)
	_ = fail(cb, errTransport)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_GenericExecute(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig())

	v, err := Execute(context.Background(), cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Execute(ctx, cb, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreaker_StateChangeCallbackAndReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cb, _ := newTestBreaker(cfg)

	changes := make(chan [2]State, 4)
	cb.OnStateChange(func(from, to State) { changes <- [2]State{from, to} })

	_ = fail(cb, errTransport)
	select {
	case ch := <-changes:
		assert.Equal(t, [2]State{StateClosed, StateOpen}, ch)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
