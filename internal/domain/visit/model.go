// Package visit persists patient encounter records alongside a snapshot of
// the evaluation output that was shown for them. This is ownership plumbing
// around the rule engine: the engine itself never reads any of it.
package visit

import (
	"time"

	"github.com/google/uuid"

	"github.com/neprocare/neprocare/internal/domain/evaluation"
)

// Summary snapshots the rendered evaluation outputs at save time, for audit.
type Summary struct {
	DoctorDiagnosis  string `json:"doctorDiagnosis,omitempty"`
	PatientDiagnosis string `json:"patientDiagnosis,omitempty"`
	Alerts           string `json:"alerts,omitempty"`
	Missing          string `json:"missing,omitempty"`
	Tests            string `json:"tests,omitempty"`
	Medicines        string `json:"medicines,omitempty"`
}

// Visit is one saved encounter. DoctorID comes from the authenticated
// caller and is used only for ownership queries.
type Visit struct {
	ID        uuid.UUID                `db:"id" json:"id"`
	DoctorID  string                   `db:"doctor_id" json:"doctor_id"`
	PatientID string                   `db:"patient_id" json:"patient_id,omitempty"`
	Namespace string                   `db:"namespace" json:"namespace"`
	Record    evaluation.PatientRecord `db:"record" json:"record"`
	Summary   Summary                  `db:"summary" json:"summary"`
	CreatedAt time.Time                `db:"created_at" json:"created_at"`
}
