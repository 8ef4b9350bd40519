package studyplan

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrInvalidRequest = errors.New("invalid study plan request")

const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"

	maxPlanDays = 180
)

type Preferences struct {
	PreferredStudyHours    []int `json:"preferred_study_hours,omitempty"`
	SessionDurationMinutes int   `json:"session_duration_minutes"`
	BreakDurationMinutes   int   `json:"break_duration_minutes"`
	DaysPerWeek            int   `json:"days_per_week"`
}

type Request struct {
	UserID          string       `json:"user_id"`
	Goal            string       `json:"goal"`
	Topics          []string     `json:"topics"`
	StartDate       string       `json:"start_date"`
	EndDate         string       `json:"end_date"`
	DifficultyLevel string       `json:"difficulty_level"`
	Preferences     *Preferences `json:"preferences,omitempty"`
	AuthToken       string       `json:"auth_token"`
}

type PreviewRequest struct {
	UserID    string `json:"user_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	AuthToken string `json:"auth_token"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Normalize fills defaults and validates r in place.
func (r *Request) Normalize() error {
	if strings.TrimSpace(r.UserID) == "" {
		return invalid("user_id is required")
	}
	if strings.TrimSpace(r.AuthToken) == "" {
		return invalid("auth_token is required")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(r.Goal)); n < 10 || n > 1000 {
		return invalid("goal must be between 10 and 1000 characters")
	}

	topics := r.Topics[:0:0]
	for _, t := range r.Topics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return invalid("At least one topic is required")
	}
	r.Topics = topics

	days, err := dateRange(r.StartDate, r.EndDate)
	if err != nil {
		return err
	}
	if days > maxPlanDays {
		return invalid("Study plan duration cannot exceed 6 months")
	}

	r.DifficultyLevel = strings.ToLower(strings.TrimSpace(r.DifficultyLevel))
	switch r.DifficultyLevel {
	case "":
		r.DifficultyLevel = DifficultyIntermediate
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
	default:
		return invalid("difficulty_level must be one of beginner, intermediate, advanced")
	}

	if r.Preferences != nil {
		return r.Preferences.normalize()
	}
	return nil
}

func (p *Preferences) normalize() error {
	fields := []struct {
		name     string
		value    *int
		min, max int
		def      int
	}{
		{"session_duration_minutes", &p.SessionDurationMinutes, 15, 180, 60},
		{"break_duration_minutes", &p.BreakDurationMinutes, 5, 60, 15},
		{"days_per_week", &p.DaysPerWeek, 1, 7, 5},
	}
	for _, f := range fields {
		if *f.value == 0 {
			*f.value = f.def
			continue
		}
		if *f.value < f.min || *f.value > f.max {
			return invalid("%s must be between %d and %d", f.name, f.min, f.max)
		}
	}
	for _, h := range p.PreferredStudyHours {
		if h < 0 || h > 23 {
			return invalid("preferred_study_hours must be between 0 and 23")
		}
	}
	return nil
}

func (r PreviewRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return invalid("user_id is required")
	}
	_, err := dateRange(r.StartDate, r.EndDate)
	return err
}

// dateRange parses both YYYY-MM-DD dates and returns the span in days.
// end must be strictly after start.
func dateRange(start, end string) (int, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return 0, invalid("Invalid date format. Use YYYY-MM-DD. Error: %v", err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return 0, invalid("Invalid date format. Use YYYY-MM-DD. Error: %v", err)
	}
	if !e.After(s) {
		return 0, invalid("End date must be after start date")
	}
	return int(e.Sub(s).Hours() / 24), nil
}
