package models

import "time"

// Student represents a learner who registers for activities. ProgramID is
// assigned by administrators and may be empty.
type Student struct {
	ID        string    `db:"id" json:"id"`
	NIS       string    `db:"nis" json:"nis"`
	FullName  string    `db:"full_name" json:"full_name"`
	ProgramID *string   `db:"program_id" json:"program_id,omitempty"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HasProgram reports whether an administrator assigned a program.
func (s Student) HasProgram() bool {
	return s.ProgramID != nil && *s.ProgramID != ""
}

// Program groups students that share hour targets.
type Program struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
