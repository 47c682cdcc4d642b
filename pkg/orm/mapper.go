package orm

import (
	"context"
	"fmt"
	"time"

	"kvorm/pkg/keyspace"
	"kvorm/pkg/kv"
)

// Logger receives diagnostic messages. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes the outcome and duration of mapper operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span around each mapper operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger. A nil logger disables logging.
func WithLogger(l Logger) Option {
	return func(m *Mapper) {
		if l == nil {
			l = noopLogger{}
		}
		m.log = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(rec MetricsRecorder) Option {
	return func(m *Mapper) {
		if rec == nil {
			rec = noopMetrics{}
		}
		m.metrics = rec
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(m *Mapper) {
		if t == nil {
			t = noopTracer{}
		}
		m.tracer = t
	}
}

// Mapper binds a finalized Registry to a store and creates instances.
type Mapper struct {
	store   kv.Store
	reg     *Registry
	log     Logger
	metrics MetricsRecorder
	tracer  Tracer
	now     func() time.Time
}

// NewMapper returns a mapper over store. The registry must be finalized.
func NewMapper(store kv.Store, reg *Registry, opts ...Option) (*Mapper, error) {
	if store == nil {
		return nil, fmt.Errorf("orm: nil store: %w", ErrInvalidArgument)
	}
	if reg == nil || !reg.Finalized() {
		return nil, ErrNotFinalized
	}
	m := &Mapper{
		store:   store,
		reg:     reg,
		log:     noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Registry returns the registry the mapper was built with.
func (m *Mapper) Registry() *Registry { return m.reg }

// Store returns the underlying store.
func (m *Mapper) Store() kv.Store { return m.store }

func (m *Mapper) model(name string) (*Model, error) {
	model, ok := m.reg.Model(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownModel)
	}
	return model, nil
}

// New returns a new, unsaved instance of model with every attribute at its
// initial value.
func (m *Mapper) New(model string) (*Instance, error) {
	md, err := m.model(model)
	if err != nil {
		return nil, err
	}
	return newInstance(m, md), nil
}

// Ref returns an instance of model bound to id without touching the store.
// Saving it writes under that id and never advances the counter.
func (m *Mapper) Ref(model string, id int64) (*Instance, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%s#%d: %w", model, id, ErrInvalidID)
	}
	inst, err := m.New(model)
	if err != nil {
		return nil, err
	}
	inst.id = id
	return inst, nil
}

// Find returns the instance model#id with attrs loaded from the store.
func (m *Mapper) Find(ctx context.Context, model string, id int64, attrs ...string) (*Instance, error) {
	inst, err := m.Ref(model, id)
	if err != nil {
		return nil, err
	}
	if err := inst.Load(ctx, attrs...); err != nil {
		return nil, err
	}
	return inst, nil
}

// LastID returns the last identifier handed out for model.
func (m *Mapper) LastID(ctx context.Context, model string) (int64, error) {
	if _, err := m.model(model); err != nil {
		return 0, err
	}
	return m.store.CounterGet(ctx, keyspace.Counter(model))
}

// ResetCounter sets the identifier counter of model to n.
func (m *Mapper) ResetCounter(ctx context.Context, model string, n int64) error {
	if _, err := m.model(model); err != nil {
		return err
	}
	if n < 0 {
		return fmt.Errorf("counter %d: %w", n, ErrInvalidArgument)
	}
	return m.store.CounterSet(ctx, keyspace.Counter(model), n)
}

// instrument wraps one public operation with tracing and metrics.
func (m *Mapper) instrument(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, op)
	start := m.now()
	err := fn(ctx)
	span.End(err)
	m.metrics.Observe(ctx, op, err == nil, m.now().Sub(start))
	return err
}
