package rules

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ── Mock repository ──

type mockArtifactRepo struct {
	mu        sync.Mutex
	artifacts map[string][]*Artifact
	saveErr   error
}

func newMockArtifactRepo() *mockArtifactRepo {
	return &mockArtifactRepo{artifacts: map[string][]*Artifact{}}
}

func (m *mockArtifactRepo) Save(_ context.Context, a *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	a.ID = uuid.New()
	a.Version = len(m.artifacts[a.Namespace]) + 1
	a.CreatedAt = time.Now().UTC()
	m.artifacts[a.Namespace] = append(m.artifacts[a.Namespace], a)
	return nil
}

func (m *mockArtifactRepo) Latest(_ context.Context, namespace string) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.artifacts[namespace]
	if len(list) == 0 {
		return nil, ErrArtifactNotFound
	}
	return list[len(list)-1], nil
}

func (m *mockArtifactRepo) ListVersions(_ context.Context, namespace string, limit, offset int) ([]*Artifact, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.artifacts[namespace]
	total := len(list)
	// newest first
	out := make([]*Artifact, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, total, nil
}

type captureMetrics struct {
	mu        sync.Mutex
	published map[string]int
}

func (c *captureMetrics) RecordPublish(namespace string, ruleCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		c.published = map[string]int{}
	}
	c.published[namespace] = ruleCount
}

func newTestService() (*Service, *mockArtifactRepo, *Store) {
	repo := newMockArtifactRepo()
	store := NewStore(NewRepoSource(repo))
	svc := NewService(repo, store, zerolog.Nop())
	return svc, repo, store
}

// ── Publish ──

func TestService_PublishCreatesVersionedArtifact(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	rows := []Row{{
		"id":             "ckd3",
		"label":          "CKD Stage 3",
		"type":           "multi",
		"conditionsJSON": `[{"section":"labs","field":"egfr","operator":"<","value":60}]`,
	}}

	rs, err := svc.Publish(ctx, rows, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rs.Rules))
	}

	art, err := repo.Latest(ctx, "core")
	if err != nil {
		t.Fatalf("expected saved artifact: %v", err)
	}
	if art.Version != 1 {
		t.Errorf("expected version 1, got %d", art.Version)
	}
	if art.RuleCount != 1 {
		t.Errorf("expected rule count 1, got %d", art.RuleCount)
	}

	if _, err := svc.Publish(ctx, rows, "core"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	art, _ = repo.Latest(ctx, "core")
	if art.Version != 2 {
		t.Errorf("expected version 2 after republish, got %d", art.Version)
	}
}

func TestService_PublishCompileErrorPersistsNothing(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	rows := []Row{
		{"id": "dup", "label": "A", "conditionsJSON": `[{"section":"labs","field":"k","operator":">","value":5}]`},
		{"id": "dup", "label": "B", "conditionsJSON": `[{"section":"labs","field":"k","operator":">","value":5}]`},
	}

	_, err := svc.Publish(ctx, rows, "core")
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CompileError, got %v", err)
	}

	if _, err := repo.Latest(ctx, "core"); !errors.Is(err, ErrArtifactNotFound) {
		t.Error("compile failure must not persist an artifact")
	}
}

func TestService_PublishInvalidatesStoreCache(t *testing.T) {
	svc, _, store := newTestService()
	ctx := context.Background()

	row := func(id string) Row {
		return Row{
			"id":             id,
			"label":          "Rule " + id,
			"conditionsJSON": `[{"section":"labs","field":"k","operator":">","value":5}]`,
		}
	}

	if _, err := svc.Publish(ctx, []Row{row("r1")}, "core"); err != nil {
		t.Fatal(err)
	}
	rs, err := store.Get(ctx, "core", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rs.Rules))
	}

	if _, err := svc.Publish(ctx, []Row{row("r1"), row("r2")}, "core"); err != nil {
		t.Fatal(err)
	}
	rs, err = store.Get(ctx, "core", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.Rules) != 2 {
		t.Errorf("expected the new version without a forced reload, got %d rules", len(rs.Rules))
	}
}

func TestService_PublishRecordsMetrics(t *testing.T) {
	svc, _, _ := newTestService()
	metrics := &captureMetrics{}
	svc.WithMetrics(metrics)

	rows := []Row{{
		"id":             "r1",
		"label":          "Rule",
		"conditionsJSON": `[{"section":"labs","field":"k","operator":">","value":5}]`,
	}}
	if _, err := svc.Publish(context.Background(), rows, "core"); err != nil {
		t.Fatal(err)
	}
	if metrics.published["core"] != 1 {
		t.Errorf("expected publish metric for core=1, got %d", metrics.published["core"])
	}
}

// ── PublishCSV / PublishFromURL ──

const sampleCSV = `id,label,type,conditionsJSON
ckd3,CKD Stage 3,multi,"[{""section"":""labs"",""field"":""egfr"",""operator"":""<"",""value"":60}]"
`

func TestService_PublishCSV(t *testing.T) {
	svc, repo, _ := newTestService()

	rs, err := svc.PublishCSV(context.Background(), strings.NewReader(sampleCSV), "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.Rules) != 1 || rs.Rules[0].ID != "ckd3" {
		t.Fatalf("unexpected rule set: %+v", rs.Rules)
	}
	if _, err := repo.Latest(context.Background(), "core"); err != nil {
		t.Errorf("expected saved artifact: %v", err)
	}
}

func TestService_PublishFromURL(t *testing.T) {
	svc, _, _ := newTestService()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleCSV))
	}))
	defer ts.Close()

	rs, err := svc.PublishFromURL(context.Background(), ts.Client(), ts.URL, "core")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.Rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rs.Rules))
	}
}

func TestService_PublishFromURL_NonOKStatus(t *testing.T) {
	svc, _, _ := newTestService()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	if _, err := svc.PublishFromURL(context.Background(), ts.Client(), ts.URL, "core"); err == nil {
		t.Fatal("expected error for non-200 source")
	}
}

// ── Get / ListVersions ──

func TestService_GetServesPublishedSet(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Get(ctx, "core", false); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable before first publish, got %v", err)
	}

	rows := []Row{{
		"id":             "r1",
		"label":          "Rule",
		"conditionsJSON": `[{"section":"labs","field":"k","operator":">","value":5}]`,
	}}
	if _, err := svc.Publish(ctx, rows, "core"); err != nil {
		t.Fatal(err)
	}

	rs, err := svc.Get(ctx, "core", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.Rules) != 1 {
		t.Errorf("expected 1 rule, got %d", len(rs.Rules))
	}
}

func TestService_ListVersions(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	rows := []Row{{
		"id":             "r1",
		"label":          "Rule",
		"conditionsJSON": `[{"section":"labs","field":"k","operator":">","value":5}]`,
	}}
	for i := 0; i < 3; i++ {
		if _, err := svc.Publish(ctx, rows, "core"); err != nil {
			t.Fatal(err)
		}
	}

	items, total, err := svc.ListVersions(ctx, "core", 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].Version != 3 {
		t.Errorf("expected newest first, got version %d", items[0].Version)
	}
}
