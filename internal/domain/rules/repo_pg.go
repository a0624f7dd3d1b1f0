package rules

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type artifactRepoPG struct{ pool *pgxpool.Pool }

func NewArtifactRepoPG(pool *pgxpool.Pool) ArtifactRepository {
	return &artifactRepoPG{pool: pool}
}

const artifactCols = `id, namespace, version, rule_count, document, generated_at, created_at`

func (r *artifactRepoPG) scan(row pgx.Row) (*Artifact, error) {
	var a Artifact
	err := row.Scan(&a.ID, &a.Namespace, &a.Version, &a.RuleCount, &a.Document, &a.GeneratedAt, &a.CreatedAt)
	return &a, err
}

func (r *artifactRepoPG) Save(ctx context.Context, a *Artifact) error {
	a.ID = uuid.New()
	return r.pool.QueryRow(ctx, `
		INSERT INTO rule_artifact (id, namespace, version, rule_count, document, generated_at)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM rule_artifact WHERE namespace = $2),
			$3, $4, $5)
		RETURNING version`,
		a.ID, a.Namespace, a.RuleCount, a.Document, a.GeneratedAt).Scan(&a.Version)
}

func (r *artifactRepoPG) Latest(ctx context.Context, namespace string) (*Artifact, error) {
	a, err := r.scan(r.pool.QueryRow(ctx, `
		SELECT `+artifactCols+` FROM rule_artifact
		WHERE namespace = $1 ORDER BY version DESC LIMIT 1`, namespace))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *artifactRepoPG) ListVersions(ctx context.Context, namespace string, limit, offset int) ([]*Artifact, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rule_artifact WHERE namespace = $1`, namespace).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+artifactCols+` FROM rule_artifact
		WHERE namespace = $1 ORDER BY version DESC LIMIT $2 OFFSET $3`,
		namespace, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Artifact
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}
