package service

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/noah-isme/sma-activity-api/internal/models"
)

// ErrInvalidTimeRange signals an activity whose start or end time is not a
// 24-hour "HH:MM" value.
var ErrInvalidTimeRange = errors.New("invalid activity time")

// CalculateDuration converts a same-day "HH:MM" start/end pair into hours.
// The result is (end - start) / 60 minutes with no clamping, so an end before
// the start yields a negative duration.
func CalculateDuration(start, end string) (float64, error) {
	startMinutes, err := minutesOfDay(start)
	if err != nil {
		return 0, err
	}
	endMinutes, err := minutesOfDay(end)
	if err != nil {
		return 0, err
	}
	return float64(endMinutes-startMinutes) / 60, nil
}

func minutesOfDay(value string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w %q", ErrInvalidTimeRange, value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ResolveLevel returns the competency level credited for an activity. An
// explicit level wins; otherwise the highest evaluation level is used. Zero
// means no level signal was found.
func ResolveLevel(activity models.Activity) int {
	level := activity.Level
	if level != 0 {
		return level
	}
	for _, evaluation := range activity.Evaluations {
		if evaluation.LevelPosition == nil {
			continue
		}
		if *evaluation.LevelPosition > level {
			level = *evaluation.LevelPosition
		}
	}
	return level
}

// IsSustainable reports whether the activity carries any sustainability theme.
func IsSustainable(activity models.Activity) bool {
	return len(activity.Themes) > 0
}

// AggregationResult is the output of AggregateHours.
type AggregationResult struct {
	Totals    models.HourTotals
	Processed int
	// Defaulted counts activities credited to level 1 because no level resolved.
	Defaulted int
	// Skipped counts rows that were not eligible and contributed nothing.
	Skipped int
}

// AggregateHours folds eligible enrollments into per-level and sustainability
// totals. Ineligible rows are skipped. An activity without a resolvable level
// is credited to level 1. Sustainability hours are added on top of the level
// bucket. Any malformed time aborts the whole aggregation.
func AggregateHours(rows []models.EnrollmentActivity) (AggregationResult, error) {
	var result AggregationResult
	for _, row := range rows {
		if !row.Enrollment.Eligible() {
			result.Skipped++
			continue
		}
		activity := row.Activity
		duration, err := CalculateDuration(activity.StartTime, activity.EndTime)
		if err != nil {
			return AggregationResult{}, fmt.Errorf("activity %s: %w", activity.ID, err)
		}
		if IsSustainable(activity) {
			result.Totals.Sustainability += duration
		}

		level := ResolveLevel(activity)
		if level < 1 || level > models.MaxLevel {
			// Unresolved levels default to the baseline bucket. Out-of-range
			// explicit levels are treated the same way rather than dropped.
			level = 1
			result.Defaulted++
		}
		result.Totals.Levels[level-1] += duration
		result.Processed++
	}
	return result, nil
}

// BucketProgress compares one accumulator with its target.
type BucketProgress struct {
	Bucket     string  `json:"bucket"`
	Hours      float64 `json:"hours"`
	Target     float64 `json:"target"`
	Remaining  float64 `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// ProgressComparison is the target comparison for a snapshot.
type ProgressComparison struct {
	HasTarget         bool             `json:"has_target"`
	Buckets           []BucketProgress `json:"buckets"`
	OverallPercentage float64          `json:"overall_percentage"`
}

// SustainabilityBucket names the sustainability accumulator in comparisons.
const SustainabilityBucket = "sustainability"

// CompareToTarget computes percentage completion for every bucket. Without a
// target only hours are reported. A zero target counts as complete. Overall
// completion caps each bucket at its target so surplus hours in one level do
// not mask a shortfall in another.
func CompareToTarget(totals models.HourTotals, target *models.ProgramTarget) ProgressComparison {
	comparison := ProgressComparison{HasTarget: target != nil}
	var goals models.HourTotals
	if target != nil {
		goals = target.Totals()
	}

	var achieved, required float64
	add := func(name string, hours, goal float64) {
		bucket := BucketProgress{Bucket: name, Hours: round2(hours)}
		if target != nil {
			bucket.Target = round2(goal)
			bucket.Remaining = round2(math.Max(goal-hours, 0))
			if goal > 0 {
				bucket.Percentage = round2(hours / goal * 100)
				achieved += math.Min(math.Max(hours, 0), goal)
				required += goal
			} else {
				bucket.Percentage = 100
			}
		}
		comparison.Buckets = append(comparison.Buckets, bucket)
	}
	for i := 0; i < models.MaxLevel; i++ {
		add(fmt.Sprintf("level_%d", i+1), totals.Levels[i], goals.Levels[i])
	}
	add(SustainabilityBucket, totals.Sustainability, goals.Sustainability)

	if target != nil {
		if required > 0 {
			comparison.OverallPercentage = round2(achieved / required * 100)
		} else {
			comparison.OverallPercentage = 100
		}
	}
	return comparison
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
