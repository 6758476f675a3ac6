package models

import "time"

// MaxLevel is the highest competency level hours can be credited to.
const MaxLevel = 5

// Activity is a scheduled event or self-reported engagement. StartTime and
// EndTime are wall-clock "HH:MM" values on ActivityDate.
type Activity struct {
	ID           string    `db:"id" json:"id"`
	Title        string    `db:"title" json:"title"`
	ActivityDate time.Time `db:"activity_date" json:"activity_date"`
	StartTime    string    `db:"start_time" json:"start_time"`
	EndTime      string    `db:"end_time" json:"end_time"`
	Level        int       `db:"level" json:"level"`
	CreatedBy    string    `db:"created_by" json:"created_by"`

	Evaluations []Evaluation          `db:"-" json:"evaluations,omitempty"`
	Themes      []SustainabilityTheme `db:"-" json:"themes,omitempty"`
}

// Level is a competency tier; Position is its ordinal (1-5).
type Level struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Position int    `db:"position" json:"position"`
}

// Evaluation links an activity to a rubric level. LevelPosition is nil when
// the referenced level no longer exists.
type Evaluation struct {
	ID            string  `db:"id" json:"id"`
	ActivityID    string  `db:"activity_id" json:"activity_id"`
	Criterion     string  `db:"criterion" json:"criterion"`
	LevelID       *string `db:"level_id" json:"level_id,omitempty"`
	LevelPosition *int    `db:"level_position" json:"level_position,omitempty"`
}

// SustainabilityTheme tags an activity as counting toward sustainability hours.
type SustainabilityTheme struct {
	ID         string `db:"id" json:"id"`
	ActivityID string `db:"activity_id" json:"activity_id"`
	Name       string `db:"name" json:"name"`
}

// ActivityDetails carries the tags loaded separately from the activity row.
type ActivityDetails struct {
	Evaluations []Evaluation
	Themes      []SustainabilityTheme
}
