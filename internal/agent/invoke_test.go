package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/agentcore-local/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stringerValue struct{ s string }

func (v stringerValue) String() string { return v.s }

func TestInvoke_Stringify(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "こんにちは", "こんにちは"},
		{"stringer", stringerValue{"from stringer"}, "from stringer"},
		{"result", &Result{Content: "from result"}, "from result"},
		{"nil", nil, ""},
		{"other", 42, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewInvoker(CallerFunc(func(context.Context, string) (any, error) {
				return tt.value, nil
			}), 1, discardLogger())

			got, err := inv.Invoke(context.Background(), "p")
			if err != nil {
				t.Fatalf("Invoke() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Invoke() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInvoke_PassesPrompt(t *testing.T) {
	var got string
	inv := NewInvoker(CallerFunc(func(_ context.Context, p string) (any, error) {
		got = p
		return "", nil
	}), 1, discardLogger())

	inv.Invoke(context.Background(), "これまでの会話:\nuser: a")
	if got != "これまでの会話:\nuser: a" {
		t.Errorf("caller got prompt %q", got)
	}
}

func TestInvoke_Uninitialized(t *testing.T) {
	var nilInv *Invoker
	if _, err := nilInv.Invoke(context.Background(), "p"); !errors.Is(err, ErrUninitialized) {
		t.Errorf("nil invoker err = %v, want ErrUninitialized", err)
	}
	if _, err := NewInvoker(nil, 1, nil).Invoke(context.Background(), "p"); !errors.Is(err, ErrUninitialized) {
		t.Errorf("nil caller err = %v, want ErrUninitialized", err)
	}
}

func TestInvoke_ErrorWrapped(t *testing.T) {
	boom := errors.New("model exploded")
	inv := NewInvoker(CallerFunc(func(context.Context, string) (any, error) {
		return nil, boom
	}), 1, discardLogger())

	_, err := inv.Invoke(context.Background(), "p")
	var ie *InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %T %v, want *InvocationError", err, err)
	}
	if !errors.Is(err, boom) {
		t.Error("InvocationError should unwrap to the cause")
	}
}

func TestInvoke_PanicRecovered(t *testing.T) {
	inv := NewInvoker(CallerFunc(func(context.Context, string) (any, error) {
		panic("nil map write")
	}), 1, discardLogger())

	_, err := inv.Invoke(context.Background(), "p")
	var ie *InvocationError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *InvocationError", err)
	}
	if !strings.Contains(ie.Err.Error(), "nil map write") {
		t.Errorf("cause = %v, want panic value", ie.Err)
	}

	// The slot must be released after a panic.
	inv.caller = CallerFunc(func(context.Context, string) (any, error) { return "ok", nil })
	if got, err := inv.Invoke(context.Background(), "p"); err != nil || got != "ok" {
		t.Errorf("Invoke after panic = %q, %v", got, err)
	}
}

func TestInvoke_BoundsConcurrency(t *testing.T) {
	const workers = 2
	var running, peak atomic.Int32
	release := make(chan struct{})

	inv := NewInvoker(CallerFunc(func(context.Context, string) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return "done", nil
	}), workers, discardLogger())

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inv.Invoke(context.Background(), "p")
		}()
	}

	// Give every goroutine time to reach the pool.
	time.Sleep(100 * time.Millisecond)
	if got := running.Load(); got != workers {
		t.Errorf("running = %d, want %d", got, workers)
	}
	close(release)
	wg.Wait()

	if got := peak.Load(); got > workers {
		t.Errorf("peak concurrency = %d, want <= %d", got, workers)
	}
}

func TestInvoke_CancelWhileQueued(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	inv := NewInvoker(CallerFunc(func(context.Context, string) (any, error) {
		<-block
		return "", nil
	}), 1, discardLogger())

	go inv.Invoke(context.Background(), "holds the only slot")
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := inv.Invoke(ctx, "waits")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestInvoke_CancelPropagatesToCall(t *testing.T) {
	sawCancel := make(chan struct{})
	inv := NewInvoker(CallerFunc(func(ctx context.Context, _ string) (any, error) {
		<-ctx.Done()
		close(sawCancel)
		return nil, ctx.Err()
	}), 1, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := inv.Invoke(ctx, "p")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Fatal("call did not observe cancellation")
	}
}

func TestInvoke_Timeout(t *testing.T) {
	inv := NewInvoker(CallerFunc(func(ctx context.Context, _ string) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), 1, discardLogger(), WithTimeout(20*time.Millisecond))

	_, err := inv.Invoke(context.Background(), "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestInvoke_Metrics(t *testing.T) {
	m := metrics.New()
	inv := NewInvoker(CallerFunc(func(context.Context, string) (any, error) {
		return "ok", nil
	}), 1, discardLogger(), WithMetrics(m))

	inv.Invoke(context.Background(), "p")

	if got := testutil.ToFloat64(m.AgentInvocationsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok invocations = %v, want 1", got)
	}
	// The worker decrements after sending its result.
	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(m.AgentInFlight) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := testutil.ToFloat64(m.AgentInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
}

func TestNewInvoker_DefaultWorkers(t *testing.T) {
	if got := NewInvoker(nil, 0, nil).Workers(); got != DefaultWorkers {
		t.Errorf("Workers() = %d, want %d", got, DefaultWorkers)
	}
}
