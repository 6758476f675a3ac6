package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-activity-api/internal/models"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
)

type fakeStudentStore struct {
	students map[string]models.Student
	err      error
}

func (f *fakeStudentStore) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type fakeEnrollmentStore struct {
	rows     []models.EnrollmentActivity
	err      error
	lastFrom time.Time
	lastTo   time.Time
}

func (f *fakeEnrollmentStore) ListEligibleByStudent(ctx context.Context, studentID string, from, to time.Time) ([]models.EnrollmentActivity, error) {
	f.lastFrom, f.lastTo = from, to
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.EnrollmentActivity, 0, len(f.rows))
	for _, row := range f.rows {
		if row.Enrollment.StudentID != studentID {
			continue
		}
		if date := row.Activity.ActivityDate; !date.IsZero() && (date.Before(from) || !date.Before(to)) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

type fakeActivityDetails struct {
	details map[string]models.ActivityDetails
	calls   [][]string
}

func (f *fakeActivityDetails) LoadDetails(ctx context.Context, ids []string) (map[string]models.ActivityDetails, error) {
	f.calls = append(f.calls, ids)
	out := make(map[string]models.ActivityDetails, len(ids))
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

type fakeSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[string]models.ProgressSnapshot
	writes    int
	err       error
}

func snapshotKey(studentID, year string) string { return studentID + "|" + year }

func (f *fakeSnapshotStore) Upsert(ctx context.Context, snapshot *models.ProgressSnapshot) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.snapshots == nil {
		f.snapshots = make(map[string]models.ProgressSnapshot)
	}
	key := snapshotKey(snapshot.StudentID, snapshot.AcademicYear)
	if existing, ok := f.snapshots[key]; ok {
		if existing.RecalculatedAt.After(snapshot.RecalculatedAt) {
			return false, nil
		}
		snapshot.ID = existing.ID
	} else {
		snapshot.ID = "snap-" + snapshot.StudentID
	}
	f.snapshots[key] = *snapshot
	f.writes++
	return true, nil
}

func (f *fakeSnapshotStore) FindByStudentAndYear(ctx context.Context, studentID, year string) (*models.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.snapshots[snapshotKey(studentID, year)]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type fakeTargetStore struct {
	targets map[string]models.ProgramTarget
}

func (f *fakeTargetStore) FindByProgramAndYear(ctx context.Context, programID, year string) (*models.ProgramTarget, error) {
	if t, ok := f.targets[programID+"|"+year]; ok {
		return &t, nil
	}
	return nil, sql.ErrNoRows
}

type fakeProgressCache struct {
	entries     map[string]interface{}
	invalidated []string
}

func (f *fakeProgressCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	v, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	*(dest.(*ProgressView)) = *(v.(*ProgressView))
	return true, nil
}

func (f *fakeProgressCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if f.entries == nil {
		f.entries = make(map[string]interface{})
	}
	f.entries[key] = value
	return nil
}

func (f *fakeProgressCache) Invalidate(ctx context.Context, pattern string) error {
	f.invalidated = append(f.invalidated, pattern)
	f.entries = nil
	return nil
}

type fakeRecalcObserver struct {
	total, failed int
}

func (f *fakeRecalcObserver) ObserveRecalculation(d time.Duration, err error) {
	f.total++
	if err != nil {
		f.failed++
	}
}

type progressFixture struct {
	students    *fakeStudentStore
	enrollments *fakeEnrollmentStore
	activities  *fakeActivityDetails
	snapshots   *fakeSnapshotStore
	targets     *fakeTargetStore
	cache       *fakeProgressCache
	observer    *fakeRecalcObserver
	now         time.Time
	svc         *ProgressService
}

func newProgressFixture() *progressFixture {
	program := "prog-1"
	f := &progressFixture{
		students: &fakeStudentStore{students: map[string]models.Student{
			"stu-1": {ID: "stu-1", FullName: "Ayu Lestari", ProgramID: &program, Active: true},
			"stu-2": {ID: "stu-2", FullName: "Budi Santoso", Active: true},
		}},
		enrollments: &fakeEnrollmentStore{},
		activities:  &fakeActivityDetails{details: map[string]models.ActivityDetails{}},
		snapshots:   &fakeSnapshotStore{},
		targets:     &fakeTargetStore{targets: map[string]models.ProgramTarget{}},
		cache:       &fakeProgressCache{},
		observer:    &fakeRecalcObserver{},
		now:         time.Date(2024, time.November, 5, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewProgressService(f.students, f.enrollments, f.activities, f.snapshots, f.targets, NewKeyedMutex(), f.cache, f.observer, nil, ProgressServiceConfig{
		Clock: func() time.Time { return f.now },
	})
	return f
}

func enrollmentFor(studentID string, activity models.Activity) models.EnrollmentActivity {
	return models.EnrollmentActivity{
		Enrollment: models.ActivityEnrollment{
			ID:                     "enr-" + activity.ID,
			StudentID:              studentID,
			ActivityID:             activity.ID,
			ParticipationConfirmed: true,
			EvidenceStatus:         models.EvidenceApproved,
		},
		Activity: activity,
	}
}

func TestProgressServiceRecalculateScenario(t *testing.T) {
	f := newProgressFixture()
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", StartTime: "09:00", EndTime: "12:00", Level: 3}),
		enrollmentFor("stu-1", models.Activity{ID: "A2", StartTime: "13:00", EndTime: "14:00"}),
	}
	f.activities.details["A2"] = models.ActivityDetails{
		Evaluations: []models.Evaluation{{ActivityID: "A2", LevelPosition: intPtr(1)}},
		Themes:      []models.SustainabilityTheme{{ActivityID: "A2", Name: "biodiversity"}},
	}

	snapshot, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.NoError(t, err)

	assert.Equal(t, "2024-2025", snapshot.AcademicYear)
	assert.Equal(t, 1.0, snapshot.Level1Hours)
	assert.Equal(t, 3.0, snapshot.Level3Hours)
	assert.Equal(t, 1.0, snapshot.SustainabilityHours)
	assert.Equal(t, 0.0, snapshot.Level2Hours)
	require.NotNil(t, snapshot.ProgramID)
	assert.Equal(t, "prog-1", *snapshot.ProgramID)
	assert.Equal(t, f.now, snapshot.RecalculatedAt)

	assert.Equal(t, time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC), f.enrollments.lastFrom)
	assert.Equal(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC), f.enrollments.lastTo)
	require.Len(t, f.activities.calls, 1)
	assert.ElementsMatch(t, []string{"A1", "A2"}, f.activities.calls[0])
	assert.Equal(t, []string{"progress:stu-1:*"}, f.cache.invalidated)
	assert.Equal(t, 1, f.observer.total)
}

func TestProgressServiceRecomputeIsFullReplace(t *testing.T) {
	f := newProgressFixture()
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", StartTime: "09:00", EndTime: "12:00", Level: 2}),
	}
	_, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.NoError(t, err)

	f.enrollments.rows = nil
	f.now = f.now.Add(time.Hour)
	snapshot, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.NoError(t, err)

	assert.Equal(t, 0.0, snapshot.Level2Hours)
	stored, err := f.snapshots.FindByStudentAndYear(context.Background(), "stu-1", "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, models.HourTotals{}, stored.Totals())
	assert.Equal(t, 2, f.snapshots.writes)
}

func TestProgressServiceIsIdempotent(t *testing.T) {
	f := newProgressFixture()
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", StartTime: "08:00", EndTime: "10:30", Level: 4}),
	}
	first, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.NoError(t, err)
	second, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, first.Totals(), second.Totals())
}

func TestProgressServiceStudentWithoutProgram(t *testing.T) {
	f := newProgressFixture()
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-2", models.Activity{ID: "A1", StartTime: "09:00", EndTime: "10:00"}),
	}
	snapshot, err := f.svc.Recalculate(context.Background(), "stu-2")
	require.NoError(t, err)
	assert.Nil(t, snapshot.ProgramID)
	assert.Equal(t, 1.0, snapshot.Level1Hours)
}

func TestProgressServiceMalformedTimeWritesNothing(t *testing.T) {
	f := newProgressFixture()
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", StartTime: "09:00", EndTime: "noon", Level: 1}),
	}
	_, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnprocessable))
	assert.True(t, errors.Is(err, ErrInvalidTimeRange))
	assert.Equal(t, 0, f.snapshots.writes)
	assert.Equal(t, 1, f.observer.failed)
}

func TestProgressServicePersistenceFailure(t *testing.T) {
	f := newProgressFixture()
	f.snapshots.err = errors.New("connection reset")
	_, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.cache.invalidated)
}

func TestProgressServiceUnknownStudent(t *testing.T) {
	f := newProgressFixture()
	_, err := f.svc.Recalculate(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestProgressServiceStaleWriteReturnsStoredSnapshot(t *testing.T) {
	f := newProgressFixture()
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", StartTime: "09:00", EndTime: "11:00", Level: 1}),
	}
	_, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.NoError(t, err)

	older := f.now.Add(-time.Minute)
	f.enrollments.rows = nil
	snapshot, err := f.svc.RecalculateAt(context.Background(), "stu-1", older)
	require.NoError(t, err)
	assert.Equal(t, 2.0, snapshot.Level1Hours)
	assert.Equal(t, f.now, snapshot.RecalculatedAt)
}

func TestProgressServiceRecalculateYear(t *testing.T) {
	f := newProgressFixture()
	snapshot, err := f.svc.RecalculateYear(context.Background(), "stu-1", "2023-2024")
	require.NoError(t, err)
	assert.Equal(t, "2023-2024", snapshot.AcademicYear)

	_, err = f.svc.RecalculateYear(context.Background(), "stu-1", "2023")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestProgressServiceGetProgressWithTarget(t *testing.T) {
	f := newProgressFixture()
	f.targets.targets["prog-1|2024-2025"] = models.ProgramTarget{ProgramID: "prog-1", AcademicYear: "2024-2025", Level3TargetHours: 6}
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", StartTime: "09:00", EndTime: "12:00", Level: 3}),
	}
	_, err := f.svc.Recalculate(context.Background(), "stu-1")
	require.NoError(t, err)

	view, err := f.svc.GetProgress(context.Background(), "stu-1", "")
	require.NoError(t, err)
	assert.Equal(t, "Ayu Lestari", view.StudentName)
	assert.True(t, view.Comparison.HasTarget)
	assert.Equal(t, 50.0, view.Comparison.Buckets[2].Percentage)
	assert.Equal(t, 50.0, view.Comparison.OverallPercentage)

	_, cached := f.cache.entries["progress:stu-1:2024-2025"]
	assert.True(t, cached)
	assert.False(t, view.Cached)

	again, err := f.svc.GetProgress(context.Background(), "stu-1", "2024-2025")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, view.Snapshot, again.Snapshot)
}

func TestProgressServiceGetProgressMissingSnapshot(t *testing.T) {
	f := newProgressFixture()
	_, err := f.svc.GetProgress(context.Background(), "stu-1", "2024-2025")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = f.svc.GetProgress(context.Background(), "stu-1", "24/25")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestProgressServiceSerialisesConcurrentRecalculations(t *testing.T) {
	f := newProgressFixture()
	f.enrollments.rows = []models.EnrollmentActivity{
		enrollmentFor("stu-1", models.Activity{ID: "A1", StartTime: "09:00", EndTime: "10:00", Level: 5}),
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Recalculate(context.Background(), "stu-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.snapshots.FindByStudentAndYear(context.Background(), "stu-1", "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, 1.0, stored.Level5Hours)
}
