package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-activity-api/internal/models"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
	"github.com/noah-isme/sma-activity-api/pkg/logger"
)

type progressStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type eligibleEnrollmentReader interface {
	ListEligibleByStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.EnrollmentActivity, error)
}

type activityDetailsLoader interface {
	LoadDetails(ctx context.Context, activityIDs []string) (map[string]models.ActivityDetails, error)
}

type progressSnapshotStore interface {
	Upsert(ctx context.Context, snapshot *models.ProgressSnapshot) (bool, error)
	FindByStudentAndYear(ctx context.Context, studentID, academicYear string) (*models.ProgressSnapshot, error)
}

type programTargetReader interface {
	FindByProgramAndYear(ctx context.Context, programID, academicYear string) (*models.ProgramTarget, error)
}

type progressCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

type recalculationObserver interface {
	ObserveRecalculation(duration time.Duration, err error)
}

// ProgressServiceConfig tunes locking, caching and the time source.
type ProgressServiceConfig struct {
	LockTTL  time.Duration
	LockWait time.Duration
	CacheTTL time.Duration
	Location *time.Location
	Clock    func() time.Time
}

// ProgressView is a stored snapshot with its target comparison.
type ProgressView struct {
	StudentID    string                  `json:"student_id"`
	StudentName  string                  `json:"student_name"`
	AcademicYear string                  `json:"academic_year"`
	Snapshot     models.ProgressSnapshot `json:"snapshot"`
	Comparison   ProgressComparison      `json:"comparison"`

	// Cached is set when the view was served from the cache.
	Cached bool `json:"-"`
}

// ProgressService recomputes and serves per-student hour snapshots.
type ProgressService struct {
	students    progressStudentReader
	enrollments eligibleEnrollmentReader
	activities  activityDetailsLoader
	snapshots   progressSnapshotStore
	targets     programTargetReader
	locker      Locker
	cache       progressCache
	metrics     recalculationObserver
	logger      *zap.Logger
	config      ProgressServiceConfig
}

// NewProgressService constructs a ProgressService. cache and metrics are optional.
func NewProgressService(
	students progressStudentReader,
	enrollments eligibleEnrollmentReader,
	activities activityDetailsLoader,
	snapshots progressSnapshotStore,
	targets programTargetReader,
	locker Locker,
	cache progressCache,
	metrics recalculationObserver,
	logger *zap.Logger,
	config ProgressServiceConfig,
) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 30 * time.Second
	}
	if config.LockWait <= 0 {
		config.LockWait = 5 * time.Second
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &ProgressService{
		students:    students,
		enrollments: enrollments,
		activities:  activities,
		snapshots:   snapshots,
		targets:     targets,
		locker:      locker,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		config:      config,
	}
}

// CurrentAcademicYear returns the academic year label for the service clock.
func (s *ProgressService) CurrentAcademicYear() string {
	return models.AcademicYearFor(s.config.Clock().In(s.config.Location))
}

// Recalculate recomputes the student's snapshot for the current academic year.
func (s *ProgressService) Recalculate(ctx context.Context, studentID string) (*models.ProgressSnapshot, error) {
	return s.RecalculateAt(ctx, studentID, s.config.Clock())
}

// RecalculateAt recomputes the snapshot for the academic year containing now
// and stamps it with now.
func (s *ProgressService) RecalculateAt(ctx context.Context, studentID string, now time.Time) (*models.ProgressSnapshot, error) {
	year := models.AcademicYearFor(now.In(s.config.Location))
	return s.recalculate(ctx, studentID, year, now)
}

// RecalculateYear recomputes the snapshot for an explicit academic year.
func (s *ProgressService) RecalculateYear(ctx context.Context, studentID, academicYear string) (*models.ProgressSnapshot, error) {
	if academicYear == "" {
		return s.Recalculate(ctx, studentID)
	}
	if _, err := models.ParseAcademicYear(academicYear); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year")
	}
	return s.recalculate(ctx, studentID, academicYear, s.config.Clock())
}

func (s *ProgressService) recalculate(ctx context.Context, studentID, year string, now time.Time) (*models.ProgressSnapshot, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.config.LockWait)
	release, err := s.locker.Acquire(lockCtx, progressLockKey(student.ID, year), s.config.LockTTL)
	cancel()
	if err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire progress lock")
	}
	defer release()

	start := time.Now()
	snapshot, err := s.compute(ctx, student, year, now)
	if s.metrics != nil {
		s.metrics.ObserveRecalculation(time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, progressCachePattern(student.ID))
	}
	return snapshot, nil
}

func (s *ProgressService) compute(ctx context.Context, student *models.Student, year string, now time.Time) (*models.ProgressSnapshot, error) {
	log := logger.WithContext(ctx, s.logger).With(zap.String("student_id", student.ID), zap.String("academic_year", year))

	from, to, err := models.AcademicYearBounds(year, s.config.Location)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year")
	}

	rows, err := s.enrollments.ListEligibleByStudent(ctx, student.ID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load eligible enrollments")
	}

	if len(rows) > 0 {
		ids := make([]string, 0, len(rows))
		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			if _, ok := seen[row.Activity.ID]; ok {
				continue
			}
			seen[row.Activity.ID] = struct{}{}
			ids = append(ids, row.Activity.ID)
		}
		details, err := s.activities.LoadDetails(ctx, ids)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity evaluations")
		}
		for i := range rows {
			d := details[rows[i].Activity.ID]
			rows[i].Activity.Evaluations = d.Evaluations
			rows[i].Activity.Themes = d.Themes
		}
	}

	result, err := AggregateHours(rows)
	if err != nil {
		if errors.Is(err, ErrInvalidTimeRange) {
			log.Error("activity time cannot be parsed; snapshot left unchanged", zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrUnprocessable.Code, appErrors.ErrUnprocessable.Status, "activity has malformed start or end time")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate hours")
	}

	snapshot := &models.ProgressSnapshot{
		StudentID:      student.ID,
		AcademicYear:   year,
		RecalculatedAt: now.UTC(),
	}
	if student.HasProgram() {
		snapshot.ProgramID = student.ProgramID
	} else {
		log.Info("student has no program assigned; storing snapshot without program")
	}
	snapshot.ApplyTotals(result.Totals)

	applied, err := s.snapshots.Upsert(ctx, snapshot)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store progress snapshot")
	}
	if !applied {
		log.Warn("newer progress snapshot already stored; stale result discarded", zap.Time("recalculated_at", snapshot.RecalculatedAt))
		current, err := s.snapshots.FindByStudentAndYear(ctx, student.ID, year)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload progress snapshot")
		}
		return current, nil
	}

	log.Info("progress recalculated",
		zap.Int("processed", result.Processed),
		zap.Int("skipped", result.Skipped),
		zap.Int("defaulted_level", result.Defaulted),
	)
	return snapshot, nil
}

// GetProgress returns the stored snapshot for the student and academic year
// along with the program target comparison. An empty year means the current one.
func (s *ProgressService) GetProgress(ctx context.Context, studentID, academicYear string) (*ProgressView, error) {
	if academicYear == "" {
		academicYear = s.CurrentAcademicYear()
	} else if _, err := models.ParseAcademicYear(academicYear); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid academic year")
	}

	key := progressCacheKey(studentID, academicYear)
	if s.cache != nil {
		var cached ProgressView
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			cached.Cached = true
			return &cached, nil
		}
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	snapshot, err := s.snapshots.FindByStudentAndYear(ctx, studentID, academicYear)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "progress snapshot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress snapshot")
	}

	var target *models.ProgramTarget
	if snapshot.ProgramID != nil && *snapshot.ProgramID != "" {
		target, err = s.targets.FindByProgramAndYear(ctx, *snapshot.ProgramID, academicYear)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load program target")
			}
			target = nil
		}
	}

	view := &ProgressView{
		StudentID:    student.ID,
		StudentName:  student.FullName,
		AcademicYear: academicYear,
		Snapshot:     *snapshot,
		Comparison:   CompareToTarget(snapshot.Totals(), target),
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, view, s.config.CacheTTL)
	}
	return view, nil
}

func progressLockKey(studentID, year string) string {
	return fmt.Sprintf("lock:progress:%s:%s", studentID, year)
}

func progressCacheKey(studentID, year string) string {
	return fmt.Sprintf("progress:%s:%s", studentID, year)
}

func progressCachePattern(studentID string) string {
	return fmt.Sprintf("progress:%s:*", studentID)
}
