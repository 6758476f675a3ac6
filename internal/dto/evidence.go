package dto

// ParticipationRequest sets whether a teacher confirmed the student attended.
type ParticipationRequest struct {
	Confirmed *bool `json:"confirmed" validate:"required"`
}

// EvidenceReviewRequest carries an optional reviewer note recorded in the audit trail.
type EvidenceReviewRequest struct {
	Note string `json:"note" validate:"max=500"`
}
