package visit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neprocare/neprocare/internal/domain/evaluation"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const visitCols = `id, doctor_id, patient_id, namespace, record, summary, created_at`

func (r *repoPG) scan(row pgx.Row) (*Visit, error) {
	var v Visit
	var record, summary []byte
	if err := row.Scan(&v.ID, &v.DoctorID, &v.PatientID, &v.Namespace, &record, &summary, &v.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(record, &v.Record); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(summary, &v.Summary); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	if v.Record == nil {
		v.Record = evaluation.PatientRecord{}
	}
	record, err := json.Marshal(v.Record)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(v.Summary)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO visit (id, doctor_id, patient_id, namespace, record, summary)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.DoctorID, v.PatientID, v.Namespace, record, summary)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+visitCols+` FROM visit WHERE id = $1`, id))
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Visit, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM visit WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+visitCols+` FROM visit
		WHERE doctor_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Visit
	for rows.Next() {
		v, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, nil
}

func (r *repoPG) LatestByDoctor(ctx context.Context, doctorID string) (*Visit, error) {
	return r.scan(r.pool.QueryRow(ctx, `
		SELECT `+visitCols+` FROM visit
		WHERE doctor_id = $1 ORDER BY created_at DESC LIMIT 1`, doctorID))
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM visit WHERE id = $1`, id)
	return err
}
