package evaluation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/neprocare/neprocare/internal/domain/rules"
)

// Metrics receives per-namespace evaluation timings. Implementations must be
// safe for concurrent use.
type Metrics interface {
	RecordEvaluation(namespace string, d time.Duration)
}

// Service binds the pure evaluation engine to the rule store. The store fetch
// is the only operation here that can fail or block; evaluation itself is
// synchronous, side-effect-free and safe under any concurrency.
type Service struct {
	store   *rules.Store
	logger  zerolog.Logger
	metrics Metrics
}

func NewService(store *rules.Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// WithMetrics attaches a metrics sink and returns the service.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// Generate loads the rule set for a namespace and evaluates the record
// against it. A fetch failure propagates; evaluating with an empty or stale
// set without the caller's consent is not an option.
func (s *Service) Generate(ctx context.Context, namespace string, forceReload bool, record PatientRecord) (*Result, error) {
	ruleSet, err := s.store.Get(ctx, namespace, forceReload)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := Evaluate(record, ruleSet)
	if s.metrics != nil {
		s.metrics.RecordEvaluation(namespace, time.Since(start))
	}
	s.logger.Debug().
		Str("namespace", namespace).
		Int("rules", len(ruleSet.Rules)).
		Int("primary", len(res.Primary)).
		Int("flags", len(res.Flags)).
		Int("missing", len(res.MissingFields)).
		Msg("evaluated record")
	return res, nil
}
