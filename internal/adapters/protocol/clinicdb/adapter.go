// Package clinicdb implements the protocol catalog adapter by reading the
// clinic EMR's Postgres directly. The EMR owns the schema; access is
// read-only. Used at sites where the catalog HTTP service is not deployed.
package clinicdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hiv-care-hub/platform/internal/adapters/medref"
	"github.com/hiv-care-hub/platform/internal/adapters/protocol"
	"github.com/hiv-care-hub/platform/internal/shared/database"
	"github.com/hiv-care-hub/platform/internal/shared/types"
)

// Adapter implements protocol.Adapter against the clinic EMR database
type Adapter struct {
	db *database.DB
}

var _ protocol.Adapter = (*Adapter)(nil)

// New creates a new clinic-DB catalog adapter
func New(db *database.DB) *Adapter {
	return &Adapter{db: db}
}

// ListProtocols returns protocols matching the filter, ordered by name.
// The EMR has no ranking; recommended filtering happens in the catalog
// service (SupportsRanking is false).
func (a *Adapter) ListProtocols(ctx context.Context, filter protocol.Filter) ([]protocol.Protocol, error) {
	query := `
		SELECT id, name, COALESCE(description, ''), target_disease
		FROM treatment_protocols
		WHERE active`
	args := []any{}

	if filter.SearchText != "" {
		args = append(args, "%"+strings.ToLower(filter.SearchText)+"%")
		query += fmt.Sprintf(" AND (LOWER(name) LIKE $%d OR LOWER(description) LIKE $%d)", len(args), len(args))
	}
	query += " ORDER BY name"

	rows, err := a.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query protocols: %w", err)
	}
	defer rows.Close()

	var protocols []protocol.Protocol
	for rows.Next() {
		var p protocol.Protocol
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.TargetDisease); err != nil {
			return nil, fmt.Errorf("failed to scan protocol row: %w", err)
		}
		protocols = append(protocols, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range protocols {
		medicines, err := a.fetchMedicines(ctx, protocols[i].ID)
		if err != nil {
			return nil, err
		}
		protocols[i].Medicines = medicines
	}

	return protocols, nil
}

func (a *Adapter) fetchMedicines(ctx context.Context, protocolID types.ID) ([]protocol.ProtocolMedicine, error) {
	rows, err := a.db.Pool.Query(ctx, `
		SELECT pm.id, pm.medicine_id, pm.dosage, pm.duration_value, pm.duration_unit,
		       COALESCE(pm.notes, ''),
		       m.name, COALESCE(m.description, ''), m.dose, m.unit, m.price
		FROM protocol_medicines pm
		JOIN medicines m ON m.id = pm.medicine_id
		WHERE pm.protocol_id = $1
		ORDER BY pm.position`, protocolID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query protocol medicines: %w", err)
	}
	defer rows.Close()

	var lines []protocol.ProtocolMedicine
	for rows.Next() {
		var pm protocol.ProtocolMedicine
		var m medref.Medicine
		if err := rows.Scan(&pm.ID, &pm.MedicineID, &pm.Dosage, &pm.DurationValue,
			&pm.DurationUnit, &pm.Notes,
			&m.Name, &m.Description, &m.Dose, &m.Unit, &m.Price); err != nil {
			return nil, fmt.Errorf("failed to scan protocol medicine row: %w", err)
		}
		m.ID = pm.MedicineID
		pm.Medicine = &m
		lines = append(lines, pm)
	}
	return lines, rows.Err()
}

// SupportsRanking is false: the EMR stores protocols without usage ranking
func (a *Adapter) SupportsRanking() bool { return false }

// ValidateForPatient checks protocol eligibility against the EMR: the
// protocol must be active and its target disease must match one of the
// patient's confirmed diagnoses.
func (a *Adapter) ValidateForPatient(ctx context.Context, protocolID, patientID types.ID) (*protocol.Eligibility, error) {
	var targetDisease string
	var active bool
	err := a.db.Pool.QueryRow(ctx, `
		SELECT target_disease, active FROM treatment_protocols WHERE id = $1`,
		protocolID.String()).Scan(&targetDisease, &active)
	if err == pgx.ErrNoRows {
		return &protocol.Eligibility{
			IsValid: false,
			Errors:  []string{"protocol does not exist"},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch protocol: %w", err)
	}

	var reasons []string
	if !active {
		reasons = append(reasons, "protocol has been retired")
	}

	var diagnosed bool
	err = a.db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM patient_diagnoses
			WHERE patient_id = $1 AND disease = $2 AND status = 'confirmed'
		)`, patientID.String(), targetDisease).Scan(&diagnosed)
	if err != nil {
		return nil, fmt.Errorf("failed to check patient diagnoses: %w", err)
	}
	if !diagnosed {
		reasons = append(reasons, fmt.Sprintf("patient has no confirmed %s diagnosis", targetDisease))
	}

	return &protocol.Eligibility{IsValid: len(reasons) == 0, Errors: reasons}, nil
}

// SourceSystem identifies the adapter implementation
func (a *Adapter) SourceSystem() string { return "clinic-emr-postgres" }

// Health checks the database connection
func (a *Adapter) Health(ctx context.Context) error {
	return a.db.Health(ctx)
}
