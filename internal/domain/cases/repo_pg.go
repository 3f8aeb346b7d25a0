package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/careline/careline/internal/platform/db"
)

// ErrNotFound is returned when a row does not exist or is soft-deleted.
var ErrNotFound = errors.New("not found")

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// =========== Case Repository ===========

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository { return &caseRepoPG{pool: pool} }

const caseCols = `id, phw_id, phw_name, facility, specialist_id, status, chief_complaint, escalation_reason,
	escalation_token_hash, escalation_expires_at, patient_age, patient_sex,
	village, district, vulnerability_flags, created_at, updated_at, deleted_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var flagsData []byte
	err := row.Scan(&c.ID, &c.PHWID, &c.PHWName, &c.Facility, &c.SpecialistID, &c.Status, &c.ChiefComplaint, &c.EscalationReason,
		&c.EscalationTokenHash, &c.EscalationExpiresAt, &c.PatientAge, &c.PatientSex,
		&c.Village, &c.District, &flagsData, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(flagsData) > 0 {
		if err := json.Unmarshal(flagsData, &c.Flags); err != nil {
			return nil, fmt.Errorf("decode vulnerability_flags: %w", err)
		}
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	c.ID = uuid.New()
	flags, err := json.Marshal(c.Flags)
	if err != nil {
		return fmt.Errorf("encode vulnerability_flags: %w", err)
	}
	_, err = conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO cases (id, phw_id, phw_name, facility, specialist_id, status, chief_complaint, escalation_reason,
			patient_age, patient_sex, village, district, vulnerability_flags)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.PHWID, c.PHWName, c.Facility, c.SpecialistID, c.Status, c.ChiefComplaint, c.EscalationReason,
		c.PatientAge, c.PatientSex, c.Village, c.District, flags)
	return err
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+caseCols+` FROM cases WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (r *caseRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+caseCols+` FROM cases WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
}

func (r *caseRepoPG) GetByTokenHash(ctx context.Context, tokenHash string) (*Case, error) {
	return scanCase(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+caseCols+` FROM cases WHERE escalation_token_hash = $1 AND deleted_at IS NULL`, tokenHash))
}

func (r *caseRepoPG) ListByPHW(ctx context.Context, phwID string, limit, offset int) ([]*Case, int, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+caseCols+` FROM cases
		WHERE phw_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, phwID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM cases WHERE phw_id = $1 AND deleted_at IS NULL`, phwID).Scan(&total)
	return out, total, err
}

func (r *caseRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE cases SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *caseRepoPG) SetEscalation(ctx context.Context, c *Case) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE cases SET status = $2, escalation_reason = $3, escalation_token_hash = $4,
			escalation_expires_at = $5, specialist_id = $6, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		c.ID, c.Status, c.EscalationReason, c.EscalationTokenHash, c.EscalationExpiresAt, c.SpecialistID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *caseRepoPG) ClearEscalationToken(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE cases SET escalation_token_hash = NULL, escalation_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

func (r *caseRepoPG) SetSpecialist(ctx context.Context, id uuid.UUID, specialistID string) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE cases SET specialist_id = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`,
		id, specialistID)
	return err
}

func (r *caseRepoPG) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE cases SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	return err
}

// =========== Vitals Repository ===========

type vitalsRepoPG struct{ pool *pgxpool.Pool }

func NewVitalsRepoPG(pool *pgxpool.Pool) VitalsRepository { return &vitalsRepoPG{pool: pool} }

func (r *vitalsRepoPG) Create(ctx context.Context, v *VitalsRecord) error {
	v.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO case_vitals (id, case_id, recorded_by, systolic_bp, diastolic_bp, heart_rate,
			respiratory_rate, spo2, temperature, blood_glucose_mgdl, weight_kg, gcs_score)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		v.ID, v.CaseID, v.RecordedBy, v.SystolicBP, v.DiastolicBP, v.HeartRate,
		v.RespiratoryRate, v.SpO2, v.Temperature, v.BloodGlucose, v.WeightKg, v.GCSScore)
	return err
}

func (r *vitalsRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*VitalsRecord, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, case_id, recorded_by, systolic_bp, diastolic_bp, heart_rate,
			respiratory_rate, spo2, temperature, blood_glucose_mgdl, weight_kg, gcs_score, created_at
		FROM case_vitals WHERE case_id = $1 ORDER BY created_at DESC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*VitalsRecord
	for rows.Next() {
		var v VitalsRecord
		if err := rows.Scan(&v.ID, &v.CaseID, &v.RecordedBy, &v.SystolicBP, &v.DiastolicBP, &v.HeartRate,
			&v.RespiratoryRate, &v.SpO2, &v.Temperature, &v.BloodGlucose, &v.WeightKg, &v.GCSScore, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// =========== Medication Repository ===========

type medicationRepoPG struct{ pool *pgxpool.Pool }

func NewMedicationRepoPG(pool *pgxpool.Pool) MedicationRepository { return &medicationRepoPG{pool: pool} }

func (r *medicationRepoPG) Create(ctx context.Context, m *MedicationRecord) error {
	m.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO case_medications (id, case_id, drug_name, code, dose, frequency, route)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.CaseID, m.DrugName, m.Code, m.Dose, m.Frequency, m.Route)
	return err
}

func (r *medicationRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*MedicationRecord, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, case_id, drug_name, code, dose, frequency, route
		FROM case_medications WHERE case_id = $1 ORDER BY drug_name`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*MedicationRecord
	for rows.Next() {
		var m MedicationRecord
		if err := rows.Scan(&m.ID, &m.CaseID, &m.DrugName, &m.Code, &m.Dose, &m.Frequency, &m.Route); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// =========== Symptom Repository ===========

type symptomRepoPG struct{ pool *pgxpool.Pool }

func NewSymptomRepoPG(pool *pgxpool.Pool) SymptomRepository { return &symptomRepoPG{pool: pool} }

func (r *symptomRepoPG) Create(ctx context.Context, s *SymptomRecord) error {
	s.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO case_symptoms (id, case_id, symptom_name, is_red_flag, severity, duration_hours)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.CaseID, s.SymptomName, s.IsRedFlag, s.Severity, s.DurationHours)
	return err
}

func (r *symptomRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*SymptomRecord, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, case_id, symptom_name, is_red_flag, severity, duration_hours
		FROM case_symptoms WHERE case_id = $1 ORDER BY symptom_name`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SymptomRecord
	for rows.Next() {
		var s SymptomRecord
		if err := rows.Scan(&s.ID, &s.CaseID, &s.SymptomName, &s.IsRedFlag, &s.Severity, &s.DurationHours); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// =========== Assessment Repository ===========

type assessmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssessmentRepoPG(pool *pgxpool.Pool) AssessmentRepository { return &assessmentRepoPG{pool: pool} }

const assessmentCols = `id, case_id, vitals_id, rule_triggered, rule_level, rule_reasons, rule_override_ml,
	ml_risk_probability, ml_risk_level, shap_top_features, shap_text,
	med_warnings, med_override_triggered, final_risk_level, final_risk_score,
	recommendation, escalation_suggested, model_version,
	sbar_situation, sbar_background, sbar_assessment, sbar_recommendation, created_at`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.CaseID, &a.VitalsID, &a.RuleTriggered, &a.RuleLevel, &a.RuleReasons, &a.RuleOverrideML,
		&a.MLRiskProbability, &a.MLRiskLevel, &a.ShapTopFeatures, &a.ShapText,
		&a.MedWarnings, &a.MedOverrideTrig, &a.FinalRiskLevel, &a.FinalRiskScore,
		&a.Recommendation, &a.EscalationSuggested, &a.ModelVersion,
		&a.SBARSituation, &a.SBARBackground, &a.SBARAssessment, &a.SBARRecommendation, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO risk_assessments (id, case_id, vitals_id, rule_triggered, rule_level, rule_reasons,
			rule_override_ml, ml_risk_probability, ml_risk_level, shap_top_features, shap_text,
			med_warnings, med_override_triggered, final_risk_level, final_risk_score,
			recommendation, escalation_suggested, model_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.CaseID, a.VitalsID, a.RuleTriggered, a.RuleLevel, a.RuleReasons,
		a.RuleOverrideML, a.MLRiskProbability, a.MLRiskLevel, a.ShapTopFeatures, a.ShapText,
		a.MedWarnings, a.MedOverrideTrig, a.FinalRiskLevel, a.FinalRiskScore,
		a.Recommendation, a.EscalationSuggested, a.ModelVersion)
	return err
}

func (r *assessmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return scanAssessment(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM risk_assessments WHERE id = $1`, id))
}

func (r *assessmentRepoPG) LatestByCase(ctx context.Context, caseID uuid.UUID) (*Assessment, error) {
	return scanAssessment(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM risk_assessments WHERE case_id = $1 ORDER BY created_at DESC LIMIT 1`, caseID))
}

func (r *assessmentRepoPG) SetSBAR(ctx context.Context, id uuid.UUID, situation, background, assessment, recommendation string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE risk_assessments SET sbar_situation = $2, sbar_background = $3,
			sbar_assessment = $4, sbar_recommendation = $5
		WHERE id = $1`,
		id, situation, background, assessment, recommendation)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Advice Repository ===========

type adviceRepoPG struct{ pool *pgxpool.Pool }

func NewAdviceRepoPG(pool *pgxpool.Pool) AdviceRepository { return &adviceRepoPG{pool: pool} }

func (r *adviceRepoPG) Create(ctx context.Context, a *Advice) error {
	a.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO specialist_advice (id, case_id, risk_assessment_id, specialist_id, advice_type,
			notes, medications_advised, investigations, follow_up_hours)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.CaseID, a.AssessmentID, a.SpecialistID, a.AdviceType,
		a.Notes, a.MedicationsAdvise, a.Investigations, a.FollowUpHours)
	return err
}

func (r *adviceRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Advice, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, case_id, risk_assessment_id, specialist_id, advice_type,
			notes, medications_advised, investigations, follow_up_hours, created_at
		FROM specialist_advice WHERE case_id = $1 ORDER BY created_at ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Advice
	for rows.Next() {
		var a Advice
		if err := rows.Scan(&a.ID, &a.CaseID, &a.AssessmentID, &a.SpecialistID, &a.AdviceType,
			&a.Notes, &a.MedicationsAdvise, &a.Investigations, &a.FollowUpHours, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
