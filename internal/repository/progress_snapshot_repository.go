package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-activity-api/internal/models"
)

// ProgressSnapshotRepository persists per-student progress snapshots.
type ProgressSnapshotRepository struct {
	db *sqlx.DB
}

// NewProgressSnapshotRepository constructs a ProgressSnapshotRepository.
func NewProgressSnapshotRepository(db *sqlx.DB) *ProgressSnapshotRepository {
	return &ProgressSnapshotRepository{db: db}
}

const snapshotColumns = `id, student_id, academic_year, program_id, level1_hours, level2_hours, level3_hours, level4_hours, level5_hours, sustainability_hours, recalculated_at, created_at`

// Upsert writes the snapshot for (student, academic year). An existing row is
// only overwritten when it is not newer than snapshot.RecalculatedAt; false is
// returned when the stored row won.
func (r *ProgressSnapshotRepository) Upsert(ctx context.Context, snapshot *models.ProgressSnapshot) (bool, error) {
	if snapshot.ID == "" {
		snapshot.ID = uuid.NewString()
	}
	const query = `INSERT INTO progress_snapshots (id, student_id, academic_year, program_id, level1_hours, level2_hours, level3_hours, level4_hours, level5_hours, sustainability_hours, recalculated_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        ON CONFLICT (student_id, academic_year) DO UPDATE SET
            program_id = EXCLUDED.program_id,
            level1_hours = EXCLUDED.level1_hours,
            level2_hours = EXCLUDED.level2_hours,
            level3_hours = EXCLUDED.level3_hours,
            level4_hours = EXCLUDED.level4_hours,
            level5_hours = EXCLUDED.level5_hours,
            sustainability_hours = EXCLUDED.sustainability_hours,
            recalculated_at = EXCLUDED.recalculated_at
        WHERE progress_snapshots.recalculated_at <= EXCLUDED.recalculated_at
        RETURNING id, created_at`

	row := r.db.QueryRowxContext(ctx, query,
		snapshot.ID,
		snapshot.StudentID,
		snapshot.AcademicYear,
		snapshot.ProgramID,
		snapshot.Level1Hours,
		snapshot.Level2Hours,
		snapshot.Level3Hours,
		snapshot.Level4Hours,
		snapshot.Level5Hours,
		snapshot.SustainabilityHours,
		snapshot.RecalculatedAt,
	)
	if err := row.Scan(&snapshot.ID, &snapshot.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("upsert progress snapshot: %w", err)
	}
	return true, nil
}

// FindByStudentAndYear returns the stored snapshot.
func (r *ProgressSnapshotRepository) FindByStudentAndYear(ctx context.Context, studentID, academicYear string) (*models.ProgressSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM progress_snapshots WHERE student_id = $1 AND academic_year = $2`
	var snapshot models.ProgressSnapshot
	if err := r.db.GetContext(ctx, &snapshot, query, studentID, academicYear); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find progress snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListByProgramAndYear returns the program's snapshots joined with student
// identity, ordered by student name.
func (r *ProgressSnapshotRepository) ListByProgramAndYear(ctx context.Context, programID, academicYear string) ([]models.StudentProgressRow, error) {
	const query = `SELECT ps.id, ps.student_id, ps.academic_year, ps.program_id, ps.level1_hours, ps.level2_hours, ps.level3_hours,
        ps.level4_hours, ps.level5_hours, ps.sustainability_hours, ps.recalculated_at, ps.created_at,
        s.full_name AS student_name, s.nis AS student_nis
        FROM progress_snapshots ps JOIN students s ON s.id = ps.student_id
        WHERE ps.program_id = $1 AND ps.academic_year = $2
        ORDER BY s.full_name, s.nis`
	var rows []models.StudentProgressRow
	if err := r.db.SelectContext(ctx, &rows, query, programID, academicYear); err != nil {
		return nil, fmt.Errorf("list program progress: %w", err)
	}
	return rows, nil
}
