package dto

// RecalculateRequest triggers a manual recompute for one student.
type RecalculateRequest struct {
	AcademicYear string `json:"academicYear" form:"year"`
}

// BatchRecalculateRequest queues recomputes for every active student of a
// program, or for all active students when ProgramID is empty.
type BatchRecalculateRequest struct {
	ProgramID string `json:"programId" validate:"omitempty,max=64"`
}

// BatchRecalculateResponse reports how many students were queued.
type BatchRecalculateResponse struct {
	ProgramID string `json:"programId,omitempty"`
	Queued    int    `json:"queued"`
	Skipped   int    `json:"skipped"`
}

// ProgressExportQuery selects the program report to render.
type ProgressExportQuery struct {
	AcademicYear string `form:"year"`
	Format       string `form:"format" validate:"omitempty,oneof=csv pdf"`
}
