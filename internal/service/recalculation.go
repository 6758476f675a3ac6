package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-activity-api/internal/dto"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
	"github.com/noah-isme/sma-activity-api/pkg/jobs"
)

// RecalculationJobType identifies queued single-student recalculations.
const RecalculationJobType = "progress.recalculate_student"

// RecalculationTarget is the payload of a recalculation job. An empty
// AcademicYear means the year current when the job runs.
type RecalculationTarget struct {
	StudentID    string
	AcademicYear string
}

func (t RecalculationTarget) key() string {
	if t.AcademicYear == "" {
		return t.StudentID
	}
	return t.StudentID + "|" + t.AcademicYear
}

func (t RecalculationTarget) job() jobs.Job {
	return jobs.Job{Type: RecalculationJobType, Key: t.key(), Payload: t}
}

type recalculationQueue interface {
	Enqueue(job jobs.Job) error
}

type programStudentLister interface {
	ListActiveIDs(ctx context.Context, programID string) ([]string, error)
}

// RecalculationDispatcher puts student recalculations on the background queue.
// Jobs are keyed by student and year so one already waiting is not queued twice.
type RecalculationDispatcher struct {
	queue    recalculationQueue
	students programStudentLister
	logger   *zap.Logger
}

// NewRecalculationDispatcher constructs a dispatcher.
func NewRecalculationDispatcher(queue recalculationQueue, students programStudentLister, logger *zap.Logger) *RecalculationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecalculationDispatcher{queue: queue, students: students, logger: logger}
}

// EnqueueStudent queues a recalculation of one student's academic year. A
// job for the same student and year that has not started yet already covers
// the request.
func (d *RecalculationDispatcher) EnqueueStudent(studentID, academicYear string) error {
	err := d.queue.Enqueue(RecalculationTarget{StudentID: studentID, AcademicYear: academicYear}.job())
	if err != nil && !errors.Is(err, jobs.ErrDuplicate) {
		return err
	}
	return nil
}

// EnqueueProgram queues recalculations for every active student in a
// program, or for all active students when programID is empty.
func (d *RecalculationDispatcher) EnqueueProgram(ctx context.Context, req dto.BatchRecalculateRequest) (*dto.BatchRecalculateResponse, error) {
	ids, err := d.students.ListActiveIDs(ctx, req.ProgramID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	resp := &dto.BatchRecalculateResponse{ProgramID: req.ProgramID}
	for _, id := range ids {
		err := d.queue.Enqueue(RecalculationTarget{StudentID: id}.job())
		switch {
		case err == nil:
			resp.Queued++
		case errors.Is(err, jobs.ErrDuplicate):
			resp.Skipped++
		default:
			d.logger.Warn("batch recalculation stopped", zap.String("program_id", req.ProgramID), zap.Int("queued", resp.Queued), zap.Error(err))
			return resp, appErrors.Wrap(err, appErrors.ErrRecalculationDeferred.Code, appErrors.ErrRecalculationDeferred.Status,
				fmt.Sprintf("recalculation queue is full after %d of %d students", resp.Queued+resp.Skipped, len(ids)))
		}
	}
	d.logger.Info("batch recalculation queued", zap.String("program_id", req.ProgramID), zap.Int("queued", resp.Queued), zap.Int("skipped", resp.Skipped))
	return resp, nil
}

// RecalculationWorker executes queued recalculation jobs.
type RecalculationWorker struct {
	progress progressRecalculator
	logger   *zap.Logger
}

// NewRecalculationWorker constructs a worker for the recalculation queue.
func NewRecalculationWorker(progress progressRecalculator, logger *zap.Logger) *RecalculationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecalculationWorker{progress: progress, logger: logger}
}

// Handle implements jobs.Handler. Failures that a retry cannot fix are
// logged and dropped; anything else is returned so the queue retries.
func (w *RecalculationWorker) Handle(ctx context.Context, job jobs.Job) error {
	target, ok := job.Payload.(RecalculationTarget)
	if job.Type != RecalculationJobType || !ok || target.StudentID == "" {
		w.logger.Error("unexpected recalculation job", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}

	_, err := w.progress.RecalculateYear(ctx, target.StudentID, target.AcademicYear)
	switch {
	case err == nil:
		w.logger.Debug("queued recalculation completed", zap.String("student_id", target.StudentID), zap.String("academic_year", target.AcademicYear), zap.Int("attempt", job.Attempt))
		return nil
	case errors.Is(err, appErrors.ErrNotFound), errors.Is(err, appErrors.ErrUnprocessable), errors.Is(err, appErrors.ErrValidation):
		w.logger.Error("queued recalculation dropped", zap.String("student_id", target.StudentID), zap.String("academic_year", target.AcademicYear), zap.Error(err))
		return nil
	default:
		return err
	}
}
