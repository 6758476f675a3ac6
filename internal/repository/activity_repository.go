package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-activity-api/internal/models"
)

// ActivityRepository loads activity tags used by hour aggregation.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs an ActivityRepository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// LoadDetails returns evaluations and sustainability themes keyed by activity
// id. Activities without tags are absent from the map.
func (r *ActivityRepository) LoadDetails(ctx context.Context, ids []string) (map[string]models.ActivityDetails, error) {
	details := make(map[string]models.ActivityDetails, len(ids))
	if len(ids) == 0 {
		return details, nil
	}
	in := placeholders(len(ids), 0)
	args := stringArgs(ids)

	evaluationQuery := fmt.Sprintf(`SELECT ev.id, ev.activity_id, ev.criterion, ev.level_id, l.position AS level_position
        FROM activity_evaluations ev LEFT JOIN levels l ON l.id = ev.level_id
        WHERE ev.activity_id IN (%s) ORDER BY ev.activity_id, ev.id`, in)
	var evaluations []models.Evaluation
	if err := r.db.SelectContext(ctx, &evaluations, evaluationQuery, args...); err != nil {
		return nil, fmt.Errorf("load activity evaluations: %w", err)
	}

	themeQuery := fmt.Sprintf(`SELECT t.id, ast.activity_id, t.name
        FROM activity_sustainability_themes ast JOIN sustainability_themes t ON t.id = ast.theme_id
        WHERE ast.activity_id IN (%s) ORDER BY ast.activity_id, t.name`, in)
	var themes []models.SustainabilityTheme
	if err := r.db.SelectContext(ctx, &themes, themeQuery, args...); err != nil {
		return nil, fmt.Errorf("load activity themes: %w", err)
	}

	for _, ev := range evaluations {
		d := details[ev.ActivityID]
		d.Evaluations = append(d.Evaluations, ev)
		details[ev.ActivityID] = d
	}
	for _, theme := range themes {
		d := details[theme.ActivityID]
		d.Themes = append(d.Themes, theme)
		details[theme.ActivityID] = d
	}
	return details, nil
}
