package studyplan

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

const parseFailure = "Failed to parse study plan"

type Session struct {
	Date               string   `json:"date"`
	StartTime          string   `json:"start_time"`
	EndTime            string   `json:"end_time"`
	Topic              string   `json:"topic"`
	LearningObjectives []string `json:"learning_objectives"`
	Resources          []string `json:"resources,omitempty"`
	Notes              string   `json:"notes,omitempty"`
}

type Week struct {
	WeekNumber     int       `json:"week_number"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	Sessions       []Session `json:"sessions"`
	WeeklyGoals    []string  `json:"weekly_goals"`
	EstimatedHours float64   `json:"estimated_hours"`
}

type Conflict struct {
	Date         string `json:"date"`
	EventTitle   string `json:"event_title"`
	ConflictType string `json:"conflict_type"`
	Suggestion   string `json:"suggestion"`
}

// draft is the plan as the model writes it.
type draft struct {
	WeeklySchedule    []Week           `json:"weekly_schedule"`
	Milestones        []map[string]any `json:"milestones"`
	CalendarConflicts []Conflict       `json:"calendar_conflicts"`
	AdjustmentTips    []string         `json:"adjustment_tips"`
	TotalHours        float64          `json:"total_hours"`

	err         string
	rawResponse string
}

type Plan struct {
	Success           bool             `json:"success"`
	PlanID            string           `json:"plan_id"`
	Goal              string           `json:"goal"`
	TotalWeeks        int              `json:"total_weeks"`
	TotalSessions     int              `json:"total_sessions"`
	TotalHours        float64          `json:"total_hours"`
	WeeklySchedule    []Week           `json:"weekly_schedule"`
	Milestones        []map[string]any `json:"milestones"`
	CalendarConflicts []Conflict       `json:"calendar_conflicts"`
	AdjustmentTips    []string         `json:"adjustment_tips"`
	GeneratedAt       time.Time        `json:"generated_at"`
	Error             string           `json:"error,omitempty"`
	RawResponse       string           `json:"raw_response,omitempty"`
}

// parseDraft strips a markdown code fence and decodes the JSON plan. Text
// that does not decode yields an empty draft carrying the parse failure.
func parseDraft(text string) draft {
	body := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(body, "```json"):
		body = body[len("```json"):]
	case strings.HasPrefix(body, "```"):
		body = body[len("```"):]
	}
	body = strings.TrimSpace(strings.TrimSuffix(body, "```"))

	var d draft
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return draft{
			AdjustmentTips: []string{"Please try generating the plan again"},
			err:            parseFailure,
			rawResponse:    truncate(text, 1000),
		}
	}
	return d
}

// build computes the totals from the weeks, falling back to the model's
// total_hours when the weeks carry no estimate.
func (d draft) build(planID, goal string, at time.Time) *Plan {
	p := &Plan{
		Success:           d.err == "",
		PlanID:            planID,
		Goal:              goal,
		TotalWeeks:        len(d.WeeklySchedule),
		WeeklySchedule:    nonNil(d.WeeklySchedule),
		Milestones:        nonNil(d.Milestones),
		CalendarConflicts: nonNil(d.CalendarConflicts),
		AdjustmentTips:    nonNil(d.AdjustmentTips),
		GeneratedAt:       at.UTC(),
		Error:             d.err,
		RawResponse:       d.rawResponse,
	}
	for i := range p.WeeklySchedule {
		w := &p.WeeklySchedule[i]
		w.Sessions = nonNil(w.Sessions)
		w.WeeklyGoals = nonNil(w.WeeklyGoals)
		for j := range w.Sessions {
			w.Sessions[j].LearningObjectives = nonNil(w.Sessions[j].LearningObjectives)
		}
		p.TotalSessions += len(w.Sessions)
		p.TotalHours += w.EstimatedHours
	}
	if p.TotalHours == 0 {
		p.TotalHours = d.TotalHours
	}
	return p
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
