package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AcademicYearStartMonth opens the September-August academic year.
const AcademicYearStartMonth = time.September

// AcademicYearFor returns the "<startYear>-<startYear+1>" label containing t.
func AcademicYearFor(t time.Time) string {
	start := t.Year()
	if t.Month() < AcademicYearStartMonth {
		start--
	}
	return fmt.Sprintf("%d-%d", start, start+1)
}

// ParseAcademicYear validates label and returns its starting calendar year.
func ParseAcademicYear(label string) (int, error) {
	parts := strings.Split(strings.TrimSpace(label), "-")
	if len(parts) != 2 {
		return 0, fmt.Errorf("academic year %q must look like 2024-2025", label)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("academic year %q: %w", label, err)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("academic year %q: %w", label, err)
	}
	if end != start+1 {
		return 0, fmt.Errorf("academic year %q must span consecutive years", label)
	}
	return start, nil
}

// AcademicYearBounds returns the half-open [from, to) date range of label in loc.
func AcademicYearBounds(label string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := ParseAcademicYear(label)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	from := time.Date(start, AcademicYearStartMonth, 1, 0, 0, 0, 0, loc)
	return from, from.AddDate(1, 0, 0), nil
}
