package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// Metrics receives publish outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordPublish(namespace string, ruleCount int)
}

// Service owns the publish pipeline: raw rows in, versioned artifact out. A
// compile failure publishes nothing and leaves the previous artifact intact.
type Service struct {
	repo    ArtifactRepository
	store   *Store
	logger  zerolog.Logger
	metrics Metrics
}

func NewService(repo ArtifactRepository, store *Store, logger zerolog.Logger) *Service {
	return &Service{repo: repo, store: store, logger: logger}
}

// WithMetrics attaches a metrics sink and returns the service.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// Publish compiles rows for a namespace and persists the result as a new
// artifact version. The store's cache slot is invalidated so the next
// evaluation picks the new version up.
func (s *Service) Publish(ctx context.Context, rows []Row, namespace string) (*CompiledRuleSet, error) {
	rs, err := Compile(rows, namespace)
	if err != nil {
		return nil, err
	}

	doc, err := json.Marshal(rs)
	if err != nil {
		return nil, fmt.Errorf("encode rule set: %w", err)
	}

	art := &Artifact{
		Namespace:   namespace,
		RuleCount:   len(rs.Rules),
		Document:    doc,
		GeneratedAt: rs.GeneratedAt,
	}
	if err := s.repo.Save(ctx, art); err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	s.store.Invalidate(namespace)
	if s.metrics != nil {
		s.metrics.RecordPublish(namespace, art.RuleCount)
	}
	s.logger.Info().
		Str("namespace", namespace).
		Int("version", art.Version).
		Int("rules", art.RuleCount).
		Msg("published rule set")
	return rs, nil
}

// PublishCSV reads CSV rows and publishes them.
func (s *Service) PublishCSV(ctx context.Context, r io.Reader, namespace string) (*CompiledRuleSet, error) {
	rows, err := ReadRows(r)
	if err != nil {
		return nil, err
	}
	return s.Publish(ctx, rows, namespace)
}

// PublishFromURL fetches a CSV row source and publishes it. Used by the
// periodic republish job, standing in for the original spreadsheet pull.
func (s *Service) PublishFromURL(ctx context.Context, client *http.Client, url, namespace string) (*CompiledRuleSet, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rule rows: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rule rows: status %d", resp.StatusCode)
	}
	return s.PublishCSV(ctx, resp.Body, namespace)
}

// Get returns the active rule set for a namespace via the store.
func (s *Service) Get(ctx context.Context, namespace string, forceReload bool) (*CompiledRuleSet, error) {
	return s.store.Get(ctx, namespace, forceReload)
}

// ListVersions returns the publish history for a namespace.
func (s *Service) ListVersions(ctx context.Context, namespace string, limit, offset int) ([]*Artifact, int, error) {
	return s.repo.ListVersions(ctx, namespace, limit, offset)
}
