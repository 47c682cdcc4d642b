package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kvorm/pkg/kv"
)

// Store wraps a kv.Store and counts every primitive call by result.
type Store struct {
	next    kv.Store
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// InstrumentStore wraps next and registers the store collectors with reg.
func InstrumentStore(next kv.Store, reg prometheus.Registerer) (*Store, error) {
	s := &Store{
		next: next,
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "calls_total",
			Help:      "Store primitive calls by primitive and result.",
		}, []string{"primitive", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Store primitive latency.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"primitive"}),
	}
	if reg != nil {
		var err error
		if s.calls, err = register(reg, s.calls); err != nil {
			return nil, err
		}
		if s.latency, err = register(reg, s.latency); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Unwrap returns the wrapped store.
func (s *Store) Unwrap() kv.Store { return s.next }

func (s *Store) observe(primitive string, start time.Time, err error) {
	s.calls.WithLabelValues(primitive, status(err == nil)).Inc()
	s.latency.WithLabelValues(primitive).Observe(time.Since(start).Seconds())
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := s.next.Get(ctx, key)
	s.observe("get", start, err)
	return v, ok, err
}

func (s *Store) Put(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.next.Put(ctx, key, value)
	s.observe("put", start, err)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.observe("delete", start, err)
	return err
}

func (s *Store) CounterGet(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.next.CounterGet(ctx, key)
	s.observe("counter_get", start, err)
	return n, err
}

func (s *Store) CounterSet(ctx context.Context, key string, n int64) error {
	start := time.Now()
	err := s.next.CounterSet(ctx, key, n)
	s.observe("counter_set", start, err)
	return err
}

func (s *Store) CounterIncrement(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	n, err := s.next.CounterIncrement(ctx, key)
	s.observe("counter_increment", start, err)
	return n, err
}

func (s *Store) CounterDelete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.CounterDelete(ctx, key)
	s.observe("counter_delete", start, err)
	return err
}

func (s *Store) SetAdd(ctx context.Context, key string, members ...string) error {
	start := time.Now()
	err := s.next.SetAdd(ctx, key, members...)
	s.observe("set_add", start, err)
	return err
}

func (s *Store) SetRemove(ctx context.Context, key string, members ...string) error {
	start := time.Now()
	err := s.next.SetRemove(ctx, key, members...)
	s.observe("set_remove", start, err)
	return err
}

func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	members, err := s.next.SetMembers(ctx, key)
	s.observe("set_members", start, err)
	return members, err
}

func (s *Store) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	start := time.Now()
	ok, err := s.next.SetIsMember(ctx, key, member)
	s.observe("set_is_member", start, err)
	return ok, err
}

func (s *Store) SetDelete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.SetDelete(ctx, key)
	s.observe("set_delete", start, err)
	return err
}

var _ kv.Store = (*Store)(nil)
