// Package connwatch watches the model backend and reports when it comes
// and goes.
//
// httpkit retries dial errors for a second or two. connwatch covers the
// longer outages: Ollama restarting, a model server still loading, a
// laptop waking up. While the backend is down it is probed with
// exponential backoff; once it is up it is polled at a fixed interval.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. nil means healthy.
type ProbeFunc func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// InitialDelay is the wait after the first failed probe.
	InitialDelay time.Duration
	// MaxDelay caps the wait between failed probes.
	MaxDelay time.Duration
	// Multiplier grows the delay after each failure.
	Multiplier float64
	// PollInterval is the wait between probes while healthy.
	PollInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
}

// DefaultBackoff probes at 2s, 4s, 8s ... up to once a minute while the
// backend is down, and every 30s while it is up.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 30 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Config configures a Watcher.
type Config struct {
	// Name identifies the service in logs and status output.
	Name string
	// Probe checks the service. Required.
	Probe ProbeFunc
	// Backoff controls timing. Zero fields take DefaultBackoff values.
	Backoff Backoff
	// OnUp runs when the service is first seen healthy, and after each
	// recovery.
	OnUp func()
	// OnDown runs when the service is first seen unhealthy, and after
	// each failure that follows a healthy probe.
	OnDown func(err error)
	Logger *slog.Logger
}

// Status is a point-in-time view of a watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes one service in the background.
type Watcher struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	known     bool
	ready     bool
	lastErr   error
	lastCheck time.Time
}

// Start begins watching. The watcher runs until ctx is cancelled or Stop
// is called. It panics if cfg.Probe is nil.
func Start(ctx context.Context, cfg Config) *Watcher {
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{cfg: cfg, cancel: cancel, done: make(chan struct{})}
	go w.run(ctx)
	return w
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.cfg.Name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	b := w.cfg.Backoff
	delay := b.InitialDelay
	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return
		}
		w.record(err)

		wait := b.PollInterval
		if err != nil {
			wait = delay
			delay = min(time.Duration(float64(delay)*b.Multiplier), b.MaxDelay)
		} else {
			delay = b.InitialDelay
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(ctx)
}

// record stores a probe result and fires the transition callback, if any.
func (w *Watcher) record(err error) {
	w.mu.Lock()
	first := !w.known
	was := w.ready
	w.known = true
	w.ready = err == nil
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	log := w.cfg.Logger.With("service", w.cfg.Name)
	switch {
	case err == nil && (first || !was):
		log.Info("service reachable")
		if w.cfg.OnUp != nil {
			w.cfg.OnUp()
		}
	case err != nil && (first || was):
		log.Warn("service unreachable", "error", err)
		if w.cfg.OnDown != nil {
			w.cfg.OnDown(err)
		}
	case err != nil:
		log.Debug("service still unreachable", "error", err)
	}
}
