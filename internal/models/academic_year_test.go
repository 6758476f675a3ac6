package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcademicYearFor(t *testing.T) {
	cases := map[string]time.Time{
		"2024-2025": time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC),
		"2023-2024": time.Date(2024, time.August, 31, 23, 59, 0, 0, time.UTC),
		"2025-2026": time.Date(2026, time.January, 15, 8, 0, 0, 0, time.UTC),
	}
	for want, at := range cases {
		assert.Equal(t, want, AcademicYearFor(at), at.String())
	}
}

func TestAcademicYearBounds(t *testing.T) {
	from, to, err := AcademicYearBounds("2024-2025", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC), to)
}

func TestParseAcademicYearRejectsMalformed(t *testing.T) {
	for _, label := range []string{"2024", "2024-2026", "abcd-2025", ""} {
		_, err := ParseAcademicYear(label)
		assert.Error(t, err, label)
	}
}

func TestActivityEnrollmentEligible(t *testing.T) {
	assert.True(t, ActivityEnrollment{ParticipationConfirmed: true, EvidenceStatus: EvidenceApproved}.Eligible())
	assert.False(t, ActivityEnrollment{ParticipationConfirmed: false, EvidenceStatus: EvidenceApproved}.Eligible())
	assert.False(t, ActivityEnrollment{ParticipationConfirmed: true, EvidenceStatus: EvidenceSubmitted}.Eligible())
}

func TestProgressSnapshotTotalsRoundTrip(t *testing.T) {
	var snap ProgressSnapshot
	snap.ApplyTotals(HourTotals{Levels: [MaxLevel]float64{1, 2, 3, 4, 5}, Sustainability: 6})
	totals := snap.Totals()
	assert.Equal(t, 3.0, totals.Level(3))
	assert.Equal(t, 6.0, totals.Sustainability)
	assert.Equal(t, 0.0, totals.Level(0))
	assert.Equal(t, 0.0, totals.Level(6))
}
