package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-activity-api/internal/dto"
	"github.com/noah-isme/sma-activity-api/internal/models"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
)

type fakeEvidenceStore struct {
	enrollments   map[string]models.ActivityEnrollment
	transitions   int
	participation map[string]bool
	updateErr     error
}

func (f *fakeEvidenceStore) FindByID(ctx context.Context, id string) (*models.ActivityEnrollment, error) {
	e, ok := f.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (f *fakeEvidenceStore) TransitionEvidence(ctx context.Context, id string, from []models.EvidenceStatus, to models.EvidenceStatus, reviewerID string, at time.Time) (bool, error) {
	if f.updateErr != nil {
		return false, f.updateErr
	}
	e, ok := f.enrollments[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, status := range from {
		if e.EvidenceStatus == status {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	e.EvidenceStatus = to
	e.EvidenceReviewedBy = &reviewerID
	if to == models.EvidenceApproved {
		e.EvidenceApprovedAt = &at
	} else {
		e.EvidenceApprovedAt = nil
	}
	f.enrollments[id] = e
	f.transitions++
	return true, nil
}

func (f *fakeEvidenceStore) SetParticipation(ctx context.Context, id string, confirmed bool, at time.Time) error {
	if f.participation == nil {
		f.participation = map[string]bool{}
	}
	f.participation[id] = confirmed
	return nil
}

type fakeRecalculator struct {
	calls    []string
	years    []string
	err      error
	snapshot *models.ProgressSnapshot
}

func (f *fakeRecalculator) RecalculateYear(ctx context.Context, studentID, academicYear string) (*models.ProgressSnapshot, error) {
	f.calls = append(f.calls, studentID)
	f.years = append(f.years, academicYear)
	if f.err != nil {
		return nil, f.err
	}
	if f.snapshot != nil {
		return f.snapshot, nil
	}
	return &models.ProgressSnapshot{StudentID: studentID, AcademicYear: academicYear}, nil
}

func (f *fakeRecalculator) CurrentAcademicYear() string { return "2024-2025" }

type fakeScheduler struct {
	queued []string
	years  []string
	err    error
}

func (f *fakeScheduler) EnqueueStudent(studentID, academicYear string) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, studentID)
	f.years = append(f.years, academicYear)
	return nil
}

func newEvidenceFixture(status models.EvidenceStatus) (*EvidenceService, *fakeEvidenceStore, *fakeRecalculator, *fakeScheduler) {
	store := &fakeEvidenceStore{enrollments: map[string]models.ActivityEnrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", ActivityID: "act-1", ParticipationConfirmed: true, EvidenceStatus: status},
	}}
	recalc := &fakeRecalculator{}
	scheduler := &fakeScheduler{}
	svc := NewEvidenceService(store, recalc, scheduler, NewMetricsService(), nil, nil)
	return svc, store, recalc, scheduler
}

func TestEvidenceServiceApproveTriggersOneRecalculation(t *testing.T) {
	svc, store, recalc, scheduler := newEvidenceFixture(models.EvidenceSubmitted)

	decision, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, models.EvidenceApproved, decision.Enrollment.EvidenceStatus)
	require.NotNil(t, decision.Enrollment.EvidenceReviewedBy)
	assert.Equal(t, "teacher-1", *decision.Enrollment.EvidenceReviewedBy)
	assert.NotNil(t, decision.Enrollment.EvidenceApprovedAt)
	require.NotNil(t, decision.Snapshot)
	assert.Equal(t, []string{"stu-1"}, recalc.calls)
	assert.Equal(t, []string{"2024-2025"}, recalc.years)
	assert.Equal(t, 1, store.transitions)
	assert.Empty(t, scheduler.queued)

	_, err = svc.Approve(context.Background(), "enr-1", "teacher-1")
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.Len(t, recalc.calls, 1)
}

func TestEvidenceServiceApproveAfterRejection(t *testing.T) {
	svc, _, recalc, _ := newEvidenceFixture(models.EvidenceRejected)
	_, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	require.NoError(t, err)
	assert.Len(t, recalc.calls, 1)
}

func TestEvidenceServiceApproveWithoutEvidence(t *testing.T) {
	svc, _, recalc, _ := newEvidenceFixture(models.EvidenceNotSubmitted)
	_, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	assert.True(t, errors.Is(err, appErrors.ErrPreconditionFailed))
	assert.Empty(t, recalc.calls)
}

func TestEvidenceServiceApproveUnknownEnrollment(t *testing.T) {
	svc, _, _, _ := newEvidenceFixture(models.EvidenceSubmitted)
	_, err := svc.Approve(context.Background(), "missing", "teacher-1")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestEvidenceServiceApproveRecalculationFailureQueuesRetry(t *testing.T) {
	svc, store, recalc, scheduler := newEvidenceFixture(models.EvidenceSubmitted)
	recalc.err = appErrors.Wrap(errors.New("db timeout"), appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store progress snapshot")

	decision, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	require.Error(t, err)
	assert.Nil(t, decision)
	assert.Equal(t, appErrors.ErrRecalculationDeferred.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"stu-1"}, scheduler.queued)
	assert.Equal(t, []string{"2024-2025"}, scheduler.years)
	assert.Equal(t, models.EvidenceApproved, store.enrollments["enr-1"].EvidenceStatus)
}

func TestEvidenceServiceApproveLateEvidenceRecalculatesActivityYear(t *testing.T) {
	// August activity approved in September: its hours belong to the year
	// that just ended, not the one the clock is in.
	f := newProgressFixture()
	f.now = time.Date(2025, time.September, 10, 8, 0, 0, 0, time.UTC)
	activityDate := time.Date(2025, time.August, 20, 0, 0, 0, 0, time.UTC)
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", ActivityDate: activityDate, StartTime: "09:00", EndTime: "12:00", Level: 3}),
	}
	store := &fakeEvidenceStore{enrollments: map[string]models.ActivityEnrollment{
		"enr-A1": {ID: "enr-A1", StudentID: "stu-1", ActivityID: "A1", ParticipationConfirmed: true, EvidenceStatus: models.EvidenceSubmitted, ActivityDate: &activityDate},
	}}
	svc := NewEvidenceService(store, f.svc, &fakeScheduler{}, nil, nil, nil)

	decision, err := svc.Approve(context.Background(), "enr-A1", "teacher-1")
	require.NoError(t, err)
	require.NotNil(t, decision.Snapshot)
	assert.Equal(t, "2024-2025", decision.Snapshot.AcademicYear)
	assert.Equal(t, 3.0, decision.Snapshot.Level3Hours)

	previous, err := f.snapshots.FindByStudentAndYear(context.Background(), "stu-1", "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, 3.0, previous.Level3Hours)

	current, err := f.snapshots.FindByStudentAndYear(context.Background(), "stu-1", "2025-2026")
	require.NoError(t, err)
	assert.Zero(t, current.Level3Hours)
}

func TestEvidenceServiceApproveLateEvidenceFailureQueuesEveryYear(t *testing.T) {
	svc, store, recalc, scheduler := newEvidenceFixture(models.EvidenceSubmitted)
	activityDate := time.Date(2024, time.August, 28, 0, 0, 0, 0, time.UTC)
	enrollment := store.enrollments["enr-1"]
	enrollment.ActivityDate = &activityDate
	store.enrollments["enr-1"] = enrollment
	recalc.err = errors.New("db timeout")

	_, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	assert.Equal(t, appErrors.ErrRecalculationDeferred.Code, appErrors.FromError(err).Code)
	assert.Equal(t, []string{"2023-2024"}, recalc.years)
	assert.Equal(t, []string{"2023-2024", "2024-2025"}, scheduler.years)
}

func TestEvidenceServiceApproveQueueUnavailable(t *testing.T) {
	svc, _, recalc, scheduler := newEvidenceFixture(models.EvidenceSubmitted)
	recalc.err = errors.New("db timeout")
	scheduler.err = errors.New("queue full")

	_, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestEvidenceServiceApproveMalformedActivityIsNotRetried(t *testing.T) {
	svc, _, recalc, scheduler := newEvidenceFixture(models.EvidenceSubmitted)
	recalc.err = appErrors.Wrap(ErrInvalidTimeRange, appErrors.ErrUnprocessable.Code, appErrors.ErrUnprocessable.Status, "activity has malformed start or end time")

	_, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	assert.True(t, errors.Is(err, appErrors.ErrUnprocessable))
	assert.Empty(t, scheduler.queued)
}

func TestEvidenceServiceRejectDoesNotRecalculate(t *testing.T) {
	svc, store, recalc, _ := newEvidenceFixture(models.EvidenceApproved)

	decision, err := svc.Reject(context.Background(), "enr-1", "teacher-2", dto.EvidenceReviewRequest{Note: "blurry photo"})
	require.NoError(t, err)
	assert.Equal(t, models.EvidenceRejected, decision.Enrollment.EvidenceStatus)
	assert.Nil(t, decision.Enrollment.EvidenceApprovedAt)
	assert.Nil(t, decision.Snapshot)
	assert.Empty(t, recalc.calls)
	assert.Equal(t, models.EvidenceRejected, store.enrollments["enr-1"].EvidenceStatus)

	_, err = svc.Reject(context.Background(), "enr-1", "teacher-2", dto.EvidenceReviewRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
}

func TestEvidenceServiceConcurrentReviewIsConflict(t *testing.T) {
	svc, store, recalc, _ := newEvidenceFixture(models.EvidenceSubmitted)
	// Another reviewer approved between the read and the conditional update.
	enrollment := store.enrollments["enr-1"]
	svc.enrollments = &racingStore{fakeEvidenceStore: store, after: func() {
		enrollment.EvidenceStatus = models.EvidenceApproved
		store.enrollments["enr-1"] = enrollment
	}}

	_, err := svc.Approve(context.Background(), "enr-1", "teacher-1")
	assert.True(t, errors.Is(err, appErrors.ErrConflict))
	assert.Empty(t, recalc.calls)
}

type racingStore struct {
	*fakeEvidenceStore
	after func()
}

func (r *racingStore) FindByID(ctx context.Context, id string) (*models.ActivityEnrollment, error) {
	e, err := r.fakeEvidenceStore.FindByID(ctx, id)
	r.after()
	return e, err
}

func TestEvidenceServiceConfirmParticipation(t *testing.T) {
	svc, store, recalc, _ := newEvidenceFixture(models.EvidenceApproved)
	confirmed := false

	enrollment, err := svc.ConfirmParticipation(context.Background(), "enr-1", dto.ParticipationRequest{Confirmed: &confirmed})
	require.NoError(t, err)
	assert.False(t, enrollment.ParticipationConfirmed)
	assert.Equal(t, false, store.participation["enr-1"])
	assert.Empty(t, recalc.calls)

	_, err = svc.ConfirmParticipation(context.Background(), "enr-1", dto.ParticipationRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
