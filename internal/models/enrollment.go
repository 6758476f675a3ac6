package models

import "time"

// EvidenceStatus tracks the review state of a student's participation evidence.
type EvidenceStatus string

const (
	EvidenceNotSubmitted EvidenceStatus = "not_submitted"
	EvidenceSubmitted    EvidenceStatus = "submitted"
	EvidenceApproved     EvidenceStatus = "approved"
	EvidenceRejected     EvidenceStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s EvidenceStatus) Valid() bool {
	switch s {
	case EvidenceNotSubmitted, EvidenceSubmitted, EvidenceApproved, EvidenceRejected:
		return true
	}
	return false
}

// ActivityEnrollment links a student to an activity.
type ActivityEnrollment struct {
	ID                     string         `db:"id" json:"id"`
	StudentID              string         `db:"student_id" json:"student_id"`
	ActivityID             string         `db:"activity_id" json:"activity_id"`
	ParticipationConfirmed bool           `db:"participation_confirmed" json:"participation_confirmed"`
	EvidenceStatus         EvidenceStatus `db:"evidence_status" json:"evidence_status"`
	EvidenceApprovedAt     *time.Time     `db:"evidence_approved_at" json:"evidence_approved_at,omitempty"`
	EvidenceReviewedBy     *string        `db:"evidence_reviewed_by" json:"evidence_reviewed_by,omitempty"`
	ActivityDate           *time.Time     `db:"activity_date" json:"activity_date,omitempty"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at" json:"updated_at"`
}

// Eligible reports whether the enrollment counts toward hour totals: the
// teacher confirmed participation and the evidence was approved.
func (e ActivityEnrollment) Eligible() bool {
	return e.ParticipationConfirmed && e.EvidenceStatus == EvidenceApproved
}

// EnrollmentActivity pairs an enrollment with the activity it refers to.
type EnrollmentActivity struct {
	Enrollment ActivityEnrollment
	Activity   Activity
}
