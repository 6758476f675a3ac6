package models

import "time"

// HourTotals holds the six accumulators produced by hour aggregation.
// Levels[0] is level 1.
type HourTotals struct {
	Levels         [MaxLevel]float64 `json:"levels"`
	Sustainability float64           `json:"sustainability"`
}

// Level returns the accumulated hours for level n (1-based). Out of range
// levels return 0.
func (h HourTotals) Level(n int) float64 {
	if n < 1 || n > MaxLevel {
		return 0
	}
	return h.Levels[n-1]
}

// ProgressSnapshot is the derived per-student, per-academic-year hour cache.
// It is overwritten on every recalculation.
type ProgressSnapshot struct {
	ID                  string    `db:"id" json:"id"`
	StudentID           string    `db:"student_id" json:"student_id"`
	AcademicYear        string    `db:"academic_year" json:"academic_year"`
	ProgramID           *string   `db:"program_id" json:"program_id,omitempty"`
	Level1Hours         float64   `db:"level1_hours" json:"level1_hours"`
	Level2Hours         float64   `db:"level2_hours" json:"level2_hours"`
	Level3Hours         float64   `db:"level3_hours" json:"level3_hours"`
	Level4Hours         float64   `db:"level4_hours" json:"level4_hours"`
	Level5Hours         float64   `db:"level5_hours" json:"level5_hours"`
	SustainabilityHours float64   `db:"sustainability_hours" json:"sustainability_hours"`
	RecalculatedAt      time.Time `db:"recalculated_at" json:"recalculated_at"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// Totals returns the snapshot's accumulators as HourTotals.
func (s ProgressSnapshot) Totals() HourTotals {
	return HourTotals{
		Levels:         [MaxLevel]float64{s.Level1Hours, s.Level2Hours, s.Level3Hours, s.Level4Hours, s.Level5Hours},
		Sustainability: s.SustainabilityHours,
	}
}

// ApplyTotals overwrites every accumulator with totals.
func (s *ProgressSnapshot) ApplyTotals(totals HourTotals) {
	s.Level1Hours = totals.Levels[0]
	s.Level2Hours = totals.Levels[1]
	s.Level3Hours = totals.Levels[2]
	s.Level4Hours = totals.Levels[3]
	s.Level5Hours = totals.Levels[4]
	s.SustainabilityHours = totals.Sustainability
}

// StudentProgressRow is a snapshot joined with student identity for reports.
type StudentProgressRow struct {
	ProgressSnapshot
	StudentName string `db:"student_name" json:"student_name"`
	StudentNIS  string `db:"student_nis" json:"student_nis"`
}

// ProgramTarget is the administrator-defined hour requirement for a program
// in one academic year.
type ProgramTarget struct {
	ID                        string    `db:"id" json:"id"`
	ProgramID                 string    `db:"program_id" json:"program_id"`
	AcademicYear              string    `db:"academic_year" json:"academic_year"`
	Level1TargetHours         float64   `db:"level1_target_hours" json:"level1_target_hours"`
	Level2TargetHours         float64   `db:"level2_target_hours" json:"level2_target_hours"`
	Level3TargetHours         float64   `db:"level3_target_hours" json:"level3_target_hours"`
	Level4TargetHours         float64   `db:"level4_target_hours" json:"level4_target_hours"`
	Level5TargetHours         float64   `db:"level5_target_hours" json:"level5_target_hours"`
	SustainabilityTargetHours float64   `db:"sustainability_target_hours" json:"sustainability_target_hours"`
	UpdatedAt                 time.Time `db:"updated_at" json:"updated_at"`
}

// Totals returns the targets in accumulator form.
func (t ProgramTarget) Totals() HourTotals {
	return HourTotals{
		Levels:         [MaxLevel]float64{t.Level1TargetHours, t.Level2TargetHours, t.Level3TargetHours, t.Level4TargetHours, t.Level5TargetHours},
		Sustainability: t.SustainabilityTargetHours,
	}
}
