package rules

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Artifact is one immutable published rule-set version. Document holds the
// serialized CompiledRuleSet exactly as published.
type Artifact struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Namespace   string    `db:"namespace" json:"namespace"`
	Version     int       `db:"version" json:"version"`
	RuleCount   int       `db:"rule_count" json:"rule_count"`
	Document    []byte    `db:"document" json:"-"`
	GeneratedAt time.Time `db:"generated_at" json:"generated_at"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ArtifactRepository persists published rule-set versions. Save appends a new
// version; existing versions are never rewritten.
type ArtifactRepository interface {
	Save(ctx context.Context, a *Artifact) error
	Latest(ctx context.Context, namespace string) (*Artifact, error)
	ListVersions(ctx context.Context, namespace string, limit, offset int) ([]*Artifact, int, error)
}
