package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/agentcore-local/internal/metrics"
)

// ErrUninitialized is returned when no agent is configured.
var ErrUninitialized = errors.New("agent not initialized")

// InvocationError wraps any failure of an agent call, including a
// recovered panic. Err is the cause.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string {
	return "agent invocation failed: " + e.Err.Error()
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Caller is a synchronous, blocking agent. The result may be a string, a
// fmt.Stringer, or any value with a sensible fmt.Sprint form.
type Caller interface {
	Call(ctx context.Context, prompt string) (any, error)
}

// CallerFunc adapts a function to Caller.
type CallerFunc func(ctx context.Context, prompt string) (any, error)

// Call implements Caller.
func (f CallerFunc) Call(ctx context.Context, prompt string) (any, error) {
	return f(ctx, prompt)
}

// DefaultWorkers is the worker pool size when none is configured.
const DefaultWorkers = 4

// Invoker runs a Caller on a bounded pool of worker goroutines so that
// request handlers can wait on it without blocking each other.
type Invoker struct {
	caller  Caller
	slots   chan struct{}
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithTimeout bounds each call. Zero means only the caller's context
// applies.
func WithTimeout(d time.Duration) InvokerOption {
	return func(inv *Invoker) { inv.timeout = d }
}

// WithMetrics records queue wait, duration and in-flight calls.
func WithMetrics(m *metrics.Metrics) InvokerOption {
	return func(inv *Invoker) { inv.metrics = m }
}

// NewInvoker creates an Invoker allowing at most workers concurrent
// calls.
func NewInvoker(caller Caller, workers int, logger *slog.Logger, opts ...InvokerOption) *Invoker {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	inv := &Invoker{
		caller: caller,
		slots:  make(chan struct{}, workers),
		logger: logger,
	}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// Workers returns the pool size.
func (inv *Invoker) Workers() int { return cap(inv.slots) }

type callResult struct {
	value any
	err   error
}

// Invoke runs the agent on prompt and returns its answer as text.
//
// It waits for a free worker, then runs the call on its own goroutine.
// If ctx ends first, Invoke returns at once and the call is cancelled
// through its context; its worker slot frees when the call returns.
// Every failure, including a panic inside the agent, is returned as
// *InvocationError. A nil Invoker or Caller yields ErrUninitialized.
func (inv *Invoker) Invoke(ctx context.Context, prompt string) (string, error) {
	if inv == nil || inv.caller == nil {
		return "", ErrUninitialized
	}

	queued := time.Now()
	select {
	case inv.slots <- struct{}{}:
	case <-ctx.Done():
		return "", &InvocationError{Err: ctx.Err()}
	}
	inv.metrics.RecordQueueWait(time.Since(queued))

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if inv.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, inv.timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan callResult, 1)
	start := time.Now()
	inv.metrics.InFlight(1)

	go func() {
		defer func() {
			inv.metrics.InFlight(-1)
			<-inv.slots
		}()
		defer func() {
			if r := recover(); r != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := inv.caller.Call(callCtx, prompt)
		done <- callResult{value: v, err: err}
	}()

	var res callResult
	select {
	case res = <-done:
	case <-ctx.Done():
		inv.metrics.RecordInvocation("cancelled", time.Since(start))
		inv.logger.Warn("agent call abandoned", "error", ctx.Err(), "elapsed", time.Since(start))
		return "", &InvocationError{Err: ctx.Err()}
	}

	elapsed := time.Since(start)
	if res.err != nil {
		inv.metrics.RecordInvocation("error", elapsed)
		inv.logger.Error("agent call failed", "error", res.err, "elapsed", elapsed)
		return "", &InvocationError{Err: res.err}
	}

	inv.metrics.RecordInvocation("ok", elapsed)
	inv.logger.Debug("agent call done", "elapsed", elapsed)
	return stringify(res.value), nil
}

// stringify renders an agent result as text.
func stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
