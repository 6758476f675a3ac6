package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-activity-api/internal/dto"
	"github.com/noah-isme/sma-activity-api/internal/models"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
	"github.com/noah-isme/sma-activity-api/pkg/logger"
)

type evidenceEnrollmentStore interface {
	FindByID(ctx context.Context, id string) (*models.ActivityEnrollment, error)
	TransitionEvidence(ctx context.Context, id string, from []models.EvidenceStatus, to models.EvidenceStatus, reviewerID string, at time.Time) (bool, error)
	SetParticipation(ctx context.Context, id string, confirmed bool, at time.Time) error
}

type progressRecalculator interface {
	RecalculateYear(ctx context.Context, studentID, academicYear string) (*models.ProgressSnapshot, error)
}

type evidenceRecalculator interface {
	progressRecalculator
	CurrentAcademicYear() string
}

type recalculationScheduler interface {
	EnqueueStudent(studentID, academicYear string) error
}

type evidenceMetrics interface {
	RecordEvidenceDecision(decision string)
	RecordRecalculationDeferred()
}

// EvidenceDecision is the outcome of an evidence review.
type EvidenceDecision struct {
	Enrollment models.ActivityEnrollment `json:"enrollment"`
	Snapshot   *models.ProgressSnapshot  `json:"snapshot,omitempty"`
}

// EvidenceService applies participation and evidence review transitions.
// Approval is the only transition that triggers a progress recalculation.
type EvidenceService struct {
	enrollments evidenceEnrollmentStore
	progress    evidenceRecalculator
	scheduler   recalculationScheduler
	metrics     evidenceMetrics
	validator   *validator.Validate
	logger      *zap.Logger
	clock       func() time.Time
}

// NewEvidenceService constructs an EvidenceService. scheduler and metrics are optional.
func NewEvidenceService(enrollments evidenceEnrollmentStore, progress evidenceRecalculator, scheduler recalculationScheduler, metrics evidenceMetrics, validate *validator.Validate, logger *zap.Logger) *EvidenceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvidenceService{
		enrollments: enrollments,
		progress:    progress,
		scheduler:   scheduler,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
		clock:       time.Now,
	}
}

// ConfirmParticipation records whether the student attended. It never
// recalculates progress.
func (s *EvidenceService) ConfirmParticipation(ctx context.Context, enrollmentID string, req dto.ParticipationRequest) (*models.ActivityEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid participation payload")
	}
	enrollment, err := s.load(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}

	now := s.clock().UTC()
	if err := s.enrollments.SetParticipation(ctx, enrollment.ID, *req.Confirmed, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update participation")
	}
	enrollment.ParticipationConfirmed = *req.Confirmed
	enrollment.UpdatedAt = now
	return enrollment, nil
}

// Approve moves submitted or previously rejected evidence to approved and
// recalculates the student's progress in the same request. The snapshot of
// the academic year holding the activity date is recalculated first, then the
// current year when it differs; the returned snapshot is the activity's year.
// The approval is kept even when a recalculation fails; in that case retries
// are queued and ErrRecalculationDeferred is returned.
func (s *EvidenceService) Approve(ctx context.Context, enrollmentID, reviewerID string) (*EvidenceDecision, error) {
	enrollment, err := s.load(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	switch enrollment.EvidenceStatus {
	case models.EvidenceApproved:
		return nil, appErrors.Clone(appErrors.ErrConflict, "evidence already approved")
	case models.EvidenceNotSubmitted:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no evidence submitted for this enrollment")
	}

	now := s.clock().UTC()
	if err := s.transition(ctx, enrollment, []models.EvidenceStatus{models.EvidenceSubmitted, models.EvidenceRejected}, models.EvidenceApproved, reviewerID, now); err != nil {
		return nil, err
	}
	enrollment.EvidenceApprovedAt = &now
	if s.metrics != nil {
		s.metrics.RecordEvidenceDecision("approve")
	}

	log := logger.WithContext(ctx, s.logger).With(zap.String("enrollment_id", enrollment.ID), zap.String("student_id", enrollment.StudentID))
	years := s.affectedYears(enrollment)
	var snapshot *models.ProgressSnapshot
	for i, year := range years {
		current, err := s.progress.RecalculateYear(ctx, enrollment.StudentID, year)
		if err != nil {
			return nil, s.deferRecalculation(log.With(zap.String("academic_year", year)), enrollment.StudentID, years[i:], err)
		}
		if i == 0 {
			snapshot = current
		}
	}
	return &EvidenceDecision{Enrollment: *enrollment, Snapshot: snapshot}, nil
}

// affectedYears lists the academic years whose snapshot an approval changes.
func (s *EvidenceService) affectedYears(enrollment *models.ActivityEnrollment) []string {
	current := s.progress.CurrentAcademicYear()
	if enrollment.ActivityDate == nil {
		return []string{current}
	}
	activityYear := models.AcademicYearFor(*enrollment.ActivityDate)
	if activityYear == current {
		return []string{current}
	}
	return []string{activityYear, current}
}

// Reject moves submitted or approved evidence to rejected. Totals are not
// recalculated; an administrator triggers that explicitly when needed.
func (s *EvidenceService) Reject(ctx context.Context, enrollmentID, reviewerID string, req dto.EvidenceReviewRequest) (*EvidenceDecision, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}
	enrollment, err := s.load(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	switch enrollment.EvidenceStatus {
	case models.EvidenceRejected:
		return nil, appErrors.Clone(appErrors.ErrConflict, "evidence already rejected")
	case models.EvidenceNotSubmitted:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no evidence submitted for this enrollment")
	}

	now := s.clock().UTC()
	if err := s.transition(ctx, enrollment, []models.EvidenceStatus{models.EvidenceSubmitted, models.EvidenceApproved}, models.EvidenceRejected, reviewerID, now); err != nil {
		return nil, err
	}
	enrollment.EvidenceApprovedAt = nil
	if s.metrics != nil {
		s.metrics.RecordEvidenceDecision("reject")
	}
	return &EvidenceDecision{Enrollment: *enrollment}, nil
}

func (s *EvidenceService) load(ctx context.Context, id string) (*models.ActivityEnrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *EvidenceService) transition(ctx context.Context, enrollment *models.ActivityEnrollment, from []models.EvidenceStatus, to models.EvidenceStatus, reviewerID string, now time.Time) error {
	changed, err := s.enrollments.TransitionEvidence(ctx, enrollment.ID, from, to, reviewerID, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update evidence status")
	}
	if !changed {
		return appErrors.Clone(appErrors.ErrConflict, "evidence status changed by another reviewer")
	}
	enrollment.EvidenceStatus = to
	enrollment.EvidenceReviewedBy = &reviewerID
	enrollment.UpdatedAt = now
	return nil
}

func (s *EvidenceService) deferRecalculation(log *zap.Logger, studentID string, years []string, cause error) error {
	if errors.Is(cause, appErrors.ErrUnprocessable) {
		log.Error("evidence approved but stored activity data cannot be aggregated", zap.Error(cause))
		return cause
	}
	if s.scheduler == nil {
		log.Error("evidence approved but progress recalculation failed", zap.Error(cause))
		return appErrors.Wrap(cause, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "evidence approved but progress recalculation failed")
	}
	for _, year := range years {
		if err := s.scheduler.EnqueueStudent(studentID, year); err != nil {
			log.Error("evidence approved; recalculation failed and could not be queued", zap.Error(cause), zap.NamedError("enqueue_error", err))
			return appErrors.Wrap(cause, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "evidence approved but progress recalculation failed")
		}
	}
	if s.metrics != nil {
		s.metrics.RecordRecalculationDeferred()
	}
	log.Warn("progress recalculation failed; retry queued", zap.Error(cause))
	return appErrors.Wrap(cause, appErrors.ErrRecalculationDeferred.Code, appErrors.ErrRecalculationDeferred.Status, appErrors.ErrRecalculationDeferred.Message)
}
