package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/ttsgateway/internal/observe"
	"github.com/MrWong99/ttsgateway/pkg/backend"
)

// GuardConfig tunes the breaker placed in front of one backend.
type GuardConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	HalfOpenMax  int

	// Metrics receives a circuit transition event on every state change.
	// Nil disables recording.
	Metrics *observe.Metrics

	// Now replaces the breaker clock in tests.
	Now func() time.Time
}

// Guarded is a [backend.Adapter] whose Generate and Upload calls pass through
// a [CircuitBreaker]. Identity, Status and ListVoices go straight to the
// wrapped adapter: they never fail and double as the recovery signal.
type Guarded struct {
	backend.Adapter
	breaker *CircuitBreaker
}

var _ backend.Adapter = (*Guarded)(nil)

// Guard wraps a with a circuit breaker. Only engine faults (timeouts,
// unreachable engine, 5xx answers) trip it; request errors such as a 4xx or a
// refused upload do not.
func Guard(a backend.Adapter, cfg GuardConfig) *Guarded {
	id := a.ID()
	bc := CircuitBreakerConfig{
		Name:         id,
		MaxFailures:  cfg.MaxFailures,
		ResetTimeout: cfg.ResetTimeout,
		HalfOpenMax:  cfg.HalfOpenMax,
		IsFailure:    isEngineFault,
		Now:          cfg.Now,
	}
	if cfg.Metrics != nil {
		m := cfg.Metrics
		bc.OnStateChange = func(_, to State) {
			m.RecordCircuitTransition(context.Background(), id, to.String())
		}
	}
	return &Guarded{Adapter: a, breaker: NewCircuitBreaker(bc)}
}

// Breaker exposes the breaker for inspection.
func (g *Guarded) Breaker() *CircuitBreaker { return g.breaker }

// Generate forwards to the wrapped adapter unless the breaker is open, in
// which case it fails immediately with a KindCircuitOpen [backend.CallError].
func (g *Guarded) Generate(ctx context.Context, text, voice string, opts backend.GenerateOptions) ([]byte, error) {
	var audio []byte
	err := g.breaker.Execute(func() error {
		var err error
		audio, err = g.Adapter.Generate(ctx, text, voice, opts)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return nil, g.openError("generate")
	}
	return audio, err
}

// Upload forwards to the wrapped adapter unless the breaker is open, in which
// case the upload is refused without contacting the engine.
func (g *Guarded) Upload(ctx context.Context, req backend.UploadRequest) backend.UploadResult {
	var res backend.UploadResult
	err := g.breaker.Execute(func() error {
		res = g.Adapter.Upload(ctx, req)
		return res.Err
	})
	if errors.Is(err, ErrCircuitOpen) {
		ce := g.openError("upload")
		return backend.FailedUpload(g.ID(), ce)
	}
	return res
}

func (g *Guarded) openError(op string) *backend.CallError {
	return &backend.CallError{
		Backend: g.ID(),
		Op:      op,
		Kind:    backend.KindCircuitOpen,
		Err:     ErrCircuitOpen,
	}
}

func isEngineFault(err error) bool {
	var ce *backend.CallError
	if errors.As(err, &ce) {
		return ce.EngineFault()
	}
	return false
}
