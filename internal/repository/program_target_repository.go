package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-activity-api/internal/models"
)

// ProgramTargetRepository reads program hour targets.
type ProgramTargetRepository struct {
	db *sqlx.DB
}

// NewProgramTargetRepository constructs a ProgramTargetRepository.
func NewProgramTargetRepository(db *sqlx.DB) *ProgramTargetRepository {
	return &ProgramTargetRepository{db: db}
}

// FindByProgramAndYear returns the target for a program and academic year.
func (r *ProgramTargetRepository) FindByProgramAndYear(ctx context.Context, programID, academicYear string) (*models.ProgramTarget, error) {
	const query = `SELECT id, program_id, academic_year, level1_target_hours, level2_target_hours, level3_target_hours,
        level4_target_hours, level5_target_hours, sustainability_target_hours, updated_at
        FROM program_targets WHERE program_id = $1 AND academic_year = $2`
	var target models.ProgramTarget
	if err := r.db.GetContext(ctx, &target, query, programID, academicYear); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find program target: %w", err)
	}
	return &target, nil
}
