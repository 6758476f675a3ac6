package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-activity-api/internal/models"
)

// ActivityEnrollmentRepository persists student activity enrollments.
type ActivityEnrollmentRepository struct {
	db *sqlx.DB
}

// NewActivityEnrollmentRepository constructs an ActivityEnrollmentRepository.
func NewActivityEnrollmentRepository(db *sqlx.DB) *ActivityEnrollmentRepository {
	return &ActivityEnrollmentRepository{db: db}
}

const enrollmentColumns = `e.id, e.student_id, e.activity_id, e.participation_confirmed, e.evidence_status, e.evidence_approved_at, e.evidence_reviewed_by, a.activity_date, e.created_at, e.updated_at`

// academicDate formats a year boundary as a calendar date so the DATE
// comparison does not depend on the session time zone.
const academicDate = "2006-01-02"

// FindByID returns an enrollment by identifier along with its activity date.
func (r *ActivityEnrollmentRepository) FindByID(ctx context.Context, id string) (*models.ActivityEnrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM activity_enrollments e LEFT JOIN activities a ON a.id = e.activity_id WHERE e.id = $1`
	var enrollment models.ActivityEnrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	if !enrollment.EvidenceStatus.Valid() {
		return nil, fmt.Errorf("find enrollment %s: unknown evidence status %q", id, enrollment.EvidenceStatus)
	}
	return &enrollment, nil
}

type eligibleEnrollmentRow struct {
	EnrollmentID           string                `db:"enrollment_id"`
	StudentID              string                `db:"student_id"`
	ParticipationConfirmed bool                  `db:"participation_confirmed"`
	EvidenceStatus         models.EvidenceStatus `db:"evidence_status"`
	EvidenceApprovedAt     *time.Time            `db:"evidence_approved_at"`
	ActivityID             string                `db:"activity_id"`
	Title                  string                `db:"title"`
	ActivityDate           time.Time             `db:"activity_date"`
	StartTime              string                `db:"start_time"`
	EndTime                string                `db:"end_time"`
	Level                  int                   `db:"level"`
}

// ListEligibleByStudent returns the student's confirmed, evidence-approved
// enrollments whose activity date falls in [from, to), joined with the activity.
func (r *ActivityEnrollmentRepository) ListEligibleByStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.EnrollmentActivity, error) {
	const query = `SELECT e.id AS enrollment_id, e.student_id, e.participation_confirmed, e.evidence_status, e.evidence_approved_at,
        a.id AS activity_id, a.title, a.activity_date, a.start_time, a.end_time, COALESCE(a.level, 0) AS level
        FROM activity_enrollments e JOIN activities a ON a.id = e.activity_id
        WHERE e.student_id = $1 AND e.participation_confirmed = TRUE AND e.evidence_status = $2
        AND a.activity_date >= $3::date AND a.activity_date < $4::date`

	var rows []eligibleEnrollmentRow
	if err := r.db.SelectContext(ctx, &rows, query, studentID, models.EvidenceApproved, from.Format(academicDate), to.Format(academicDate)); err != nil {
		return nil, fmt.Errorf("list eligible enrollments: %w", err)
	}

	result := make([]models.EnrollmentActivity, 0, len(rows))
	for _, row := range rows {
		activityDate := row.ActivityDate
		result = append(result, models.EnrollmentActivity{
			Enrollment: models.ActivityEnrollment{
				ID:                     row.EnrollmentID,
				StudentID:              row.StudentID,
				ActivityID:             row.ActivityID,
				ParticipationConfirmed: row.ParticipationConfirmed,
				EvidenceStatus:         row.EvidenceStatus,
				EvidenceApprovedAt:     row.EvidenceApprovedAt,
				ActivityDate:           &activityDate,
			},
			Activity: models.Activity{
				ID:           row.ActivityID,
				Title:        row.Title,
				ActivityDate: row.ActivityDate,
				StartTime:    row.StartTime,
				EndTime:      row.EndTime,
				Level:        row.Level,
			},
		})
	}
	return result, nil
}

// TransitionEvidence moves the evidence status to `to` only when the current
// status is one of `from`. It reports false when no row matched.
func (r *ActivityEnrollmentRepository) TransitionEvidence(ctx context.Context, id string, from []models.EvidenceStatus, to models.EvidenceStatus, reviewerID string, at time.Time) (bool, error) {
	statuses := make([]string, len(from))
	for i, status := range from {
		statuses[i] = string(status)
	}
	var approvedAt *time.Time
	if to == models.EvidenceApproved {
		approvedAt = &at
	}

	const query = `UPDATE activity_enrollments SET evidence_status = $2, evidence_reviewed_by = $3, evidence_approved_at = $4, updated_at = $5
        WHERE id = $1 AND evidence_status = ANY($6)`
	res, err := r.db.ExecContext(ctx, query, id, to, reviewerID, approvedAt, at, pq.Array(statuses))
	if err != nil {
		return false, fmt.Errorf("transition evidence: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition evidence rows: %w", err)
	}
	return affected == 1, nil
}

// SetParticipation updates the participation confirmation flag.
func (r *ActivityEnrollmentRepository) SetParticipation(ctx context.Context, id string, confirmed bool, at time.Time) error {
	const query = `UPDATE activity_enrollments SET participation_confirmed = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, confirmed, at)
	if err != nil {
		return fmt.Errorf("set participation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set participation rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
