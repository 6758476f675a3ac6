package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-activity-api/internal/models"
)

func TestProgressSnapshotRepositoryUpsertApplied(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressSnapshotRepository(db)

	program := "prog-1"
	at := time.Date(2024, time.November, 5, 10, 0, 0, 0, time.UTC)
	snapshot := &models.ProgressSnapshot{StudentID: "stu-1", AcademicYear: "2024-2025", ProgramID: &program, Level1Hours: 4, Level3Hours: 3, SustainabilityHours: 1, RecalculatedAt: at}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE progress_snapshots.recalculated_at <= EXCLUDED.recalculated_at")).
		WithArgs(sqlmock.AnyArg(), "stu-1", "2024-2025", sqlmock.AnyArg(), 4.0, 0.0, 3.0, 0.0, 0.0, 1.0, at).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("snap-existing", at.Add(-time.Hour)))

	applied, err := repo.Upsert(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "snap-existing", snapshot.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressSnapshotRepositoryUpsertStale(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressSnapshotRepository(db)

	mock.ExpectQuery("ON CONFLICT \\(student_id, academic_year\\) DO UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	applied, err := repo.Upsert(context.Background(), &models.ProgressSnapshot{StudentID: "stu-1", AcademicYear: "2024-2025", RecalculatedAt: time.Now()})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressSnapshotRepositoryFindByStudentAndYear(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressSnapshotRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "academic_year", "program_id", "level1_hours", "level2_hours", "level3_hours", "level4_hours", "level5_hours", "sustainability_hours", "recalculated_at", "created_at"}).
		AddRow("snap-1", "stu-1", "2024-2025", "prog-1", 4.0, 0.0, 3.0, 0.0, 0.0, 1.0, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM progress_snapshots WHERE student_id = $1 AND academic_year = $2")).
		WithArgs("stu-1", "2024-2025").
		WillReturnRows(rows)

	snapshot, err := repo.FindByStudentAndYear(context.Background(), "stu-1", "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, 3.0, snapshot.Totals().Level(3))

	mock.ExpectQuery("FROM progress_snapshots").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByStudentAndYear(context.Background(), "stu-9", "2024-2025")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressSnapshotRepositoryListByProgramAndYear(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgressSnapshotRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "student_id", "academic_year", "program_id", "level1_hours", "level2_hours", "level3_hours", "level4_hours", "level5_hours", "sustainability_hours", "recalculated_at", "created_at", "student_name", "student_nis"}).
		AddRow("snap-1", "stu-1", "2024-2025", "prog-1", 4.0, 0.0, 3.0, 0.0, 0.0, 1.0, now, now, "Ayu Lestari", "2024001")
	mock.ExpectQuery(regexp.QuoteMeta("FROM progress_snapshots ps JOIN students s ON s.id = ps.student_id")).
		WithArgs("prog-1", "2024-2025").
		WillReturnRows(rows)

	result, err := repo.ListByProgramAndYear(context.Background(), "prog-1", "2024-2025")
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "Ayu Lestari", result[0].StudentName)
	assert.Equal(t, 4.0, result[0].Level1Hours)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProgramTargetRepositoryFindByProgramAndYear(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewProgramTargetRepository(db)

	rows := sqlmock.NewRows([]string{"id", "program_id", "academic_year", "level1_target_hours", "level2_target_hours", "level3_target_hours", "level4_target_hours", "level5_target_hours", "sustainability_target_hours", "updated_at"}).
		AddRow("tgt-1", "prog-1", "2024-2025", 8.0, 4.0, 4.0, 2.0, 2.0, 4.0, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM program_targets WHERE program_id = $1 AND academic_year = $2")).
		WithArgs("prog-1", "2024-2025").
		WillReturnRows(rows)

	target, err := repo.FindByProgramAndYear(context.Background(), "prog-1", "2024-2025")
	require.NoError(t, err)
	assert.Equal(t, 4.0, target.Totals().Sustainability)

	mock.ExpectQuery("FROM program_targets").WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByProgramAndYear(context.Background(), "prog-2", "2024-2025")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
