package edgedevice

import (
	"context"
	"sync"
	"time"

	"github.com/edgewall/decoder-adapter/internal/decoder"
)

// defaultInterval is the reconcile cadence.
const defaultInterval = 10 * time.Second

// Patcher is the write side of the apiserver client. Client satisfies
// it; tests substitute fakes.
type Patcher interface {
	PatchPhase(ctx context.Context, phase Phase) error
}

// Logger is the minimal logging surface the reconciler needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// DerivePhase maps device session health onto the resource phase.
// A failed login is a configuration problem, not a transient one, so
// it wins over the connection state.
func DerivePhase(h decoder.Health) Phase {
	if h.LoginFailed {
		return PhaseFailed
	}
	switch h.State {
	case decoder.StateConnected:
		return PhaseRunning
	case decoder.StateDisconnected, decoder.StateReconnecting:
		return PhasePending
	case decoder.StateShuttingDown:
		return PhaseUnknown
	default:
		return PhaseUnknown
	}
}

// Reconciler periodically derives the device phase and patches the
// EdgeDevice resource when the phase changed since the last successful
// patch. Patch failures are logged and retried on the next tick; they
// never propagate to device operations.
type Reconciler struct {
	patcher  Patcher
	health   func() decoder.Health
	interval time.Duration
	logger   Logger

	mu        sync.Mutex
	lastPhase Phase
	patched   bool

	kick chan struct{}
	done chan struct{}
	once sync.Once
}

// ReconcilerOption customises reconciler construction.
type ReconcilerOption func(*Reconciler)

// WithInterval overrides the reconcile cadence.
func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.interval = d }
}

// WithReconcilerLogger attaches a logger.
func WithReconcilerLogger(l Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler builds a reconciler over patcher, deriving the phase
// from health on every tick.
func NewReconciler(patcher Patcher, health func() decoder.Health, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		patcher:  patcher,
		health:   health,
		interval: defaultInterval,
		logger:   noopLogger{},
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the reconcile loop until ctx is cancelled. An immediate
// first pass runs before the ticker so the resource reflects reality
// at startup rather than one interval later.
func (r *Reconciler) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Kick requests an out-of-band reconcile pass, used on session state
// changes so phase transitions land without waiting for the tick.
func (r *Reconciler) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Done is closed when the reconcile loop has exited.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer r.once.Do(func() { close(r.done) })

	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcile(ctx)
		case <-r.kick:
			r.reconcile(ctx)
		}
	}
}

// reconcile performs one derive-and-patch pass, eliding the patch when
// the phase is unchanged since the last successful one.
func (r *Reconciler) reconcile(ctx context.Context) {
	phase := DerivePhase(r.health())

	r.mu.Lock()
	unchanged := r.patched && phase == r.lastPhase
	r.mu.Unlock()
	if unchanged {
		return
	}

	if err := r.patcher.PatchPhase(ctx, phase); err != nil {
		r.logger.Warn("edgedevice phase patch failed", "phase", phase, "error", err)
		return
	}

	r.mu.Lock()
	r.lastPhase = phase
	r.patched = true
	r.mu.Unlock()

	r.logger.Info("edgedevice phase updated", "phase", phase)
}

// MarkShutdown patches the terminal Unknown phase once, bypassing the
// elide check. Called during adapter teardown after the loop stopped.
func (r *Reconciler) MarkShutdown(ctx context.Context) error {
	return r.patcher.PatchPhase(ctx, PhaseUnknown)
}
