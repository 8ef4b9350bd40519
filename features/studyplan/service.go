package studyplan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"studyrag/internal/adapter/llm"
)

const (
	calendarTool  = "get_user_calendar"
	maxToolRounds = 3
)

const systemPrompt = `You are an AI study planning assistant. Your job is to create personalized, realistic study schedules.

INSTRUCTIONS:
1. First, fetch the user's calendar to understand their existing commitments
2. Analyze their available time slots based on calendar data
3. Create a study plan that:
   - Respects existing calendar events and deadlines
   - Distributes topics evenly across available time
   - Includes regular breaks (15-30 min every 1-2 hours)
   - Builds in review sessions
   - Accounts for topic difficulty (harder topics = more time)
   - Leaves buffer time for unexpected events

4. If calendar fetch fails, create a generic plan with reasonable assumptions

OUTPUT FORMAT:
Return a valid JSON object with this structure:
{
    "weekly_schedule": [
        {
            "week_number": 1,
            "start_date": "YYYY-MM-DD",
            "end_date": "YYYY-MM-DD",
            "sessions": [
                {
                    "date": "YYYY-MM-DD",
                    "start_time": "HH:MM",
                    "end_time": "HH:MM",
                    "topic": "Topic name",
                    "learning_objectives": ["objective 1", "objective 2"],
                    "resources": ["resource suggestion"],
                    "notes": "optional notes"
                }
            ],
            "weekly_goals": ["goal 1", "goal 2"],
            "estimated_hours": 10.5
        }
    ],
    "milestones": [
        {"week": 2, "milestone": "Complete fundamentals", "verification": "Quiz or self-test"}
    ],
    "calendar_conflicts": [
        {"date": "YYYY-MM-DD", "event_title": "Event name", "conflict_type": "overlap", "suggestion": "Move session to morning"}
    ],
    "adjustment_tips": ["Tip 1", "Tip 2"],
    "total_hours": 42.5
}`

var planOptions = llm.GenerationOptions{Temperature: 0.5, MaxOutputTokens: 4096}

type CalendarSource interface {
	Fetch(ctx context.Context, userID, start, end, authToken string) (*RawCalendar, error)
}

// Planner is the tool-calling language model.
type Planner interface {
	GenerateWithTools(ctx context.Context, req llm.Request, tools []llm.Tool, maxRounds int) (string, error)
}

type Service struct {
	calendar CalendarSource
	planner  Planner
	newID    func() string
	now      func() time.Time
}

func NewService(c CalendarSource, p Planner) *Service {
	return &Service{
		calendar: c,
		planner:  p,
		newID:    func() string { return uuid.New().String() },
		now:      time.Now,
	}
}

// Calendar returns the analyzed calendar, or the fallback estimate when the
// calendar API cannot be reached.
func (s *Service) Calendar(ctx context.Context, userID, start, end, authToken string) *Calendar {
	raw, err := s.calendar.Fetch(ctx, userID, start, end, authToken)
	if err != nil {
		slog.WarnContext(ctx, "using fallback calendar", "user_id", userID, "error", err)
		return Fallback(start, end)
	}
	return Analyze(raw, start, end)
}

// Generate lets the model fetch the calendar through function calling and
// turns its JSON answer into a Plan.
func (s *Service) Generate(ctx context.Context, req Request) (*Plan, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "generating study plan", "user_id", req.UserID, "topics", len(req.Topics),
		"start_date", req.StartDate, "end_date", req.EndDate)

	text, err := s.planner.GenerateWithTools(ctx, llm.Request{
		System:  systemPrompt,
		Prompt:  buildPrompt(req),
		Options: planOptions,
	}, []llm.Tool{s.calendarTool(req)}, maxToolRounds)
	if err != nil {
		return nil, fmt.Errorf("generate study plan: %w", err)
	}

	d := parseDraft(text)
	if d.err != "" {
		slog.ErrorContext(ctx, "failed to parse study plan", "raw", truncate(text, 500))
	}
	plan := d.build(s.newID(), req.Goal, s.now())
	slog.InfoContext(ctx, "study plan generated", "plan_id", plan.PlanID, "weeks", plan.TotalWeeks,
		"sessions", plan.TotalSessions, "hours", plan.TotalHours)
	return plan, nil
}

func (s *Service) calendarTool(req Request) llm.Tool {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return llm.Tool{
		Declaration: &genai.FunctionDeclaration{
			Name:        calendarTool,
			Description: "Fetch the user's calendar events and commitments for a date range. Use this to understand the user's schedule and find available time slots for studying.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"user_id":    str("The ID of the user whose calendar to fetch"),
					"start_date": str("Start date in YYYY-MM-DD format"),
					"end_date":   str("End date in YYYY-MM-DD format"),
				},
				Required: []string{"user_id", "start_date", "end_date"},
			},
		},
		Handle: func(ctx context.Context, args map[string]any) map[string]any {
			userID := stringArg(args, "user_id", req.UserID)
			start := stringArg(args, "start_date", req.StartDate)
			end := stringArg(args, "end_date", req.EndDate)
			slog.InfoContext(ctx, "function call", "name", calendarTool, "user_id", userID, "start_date", start, "end_date", end)

			data, err := json.Marshal(s.Calendar(ctx, userID, start, end, req.AuthToken))
			if err != nil {
				return map[string]any{"error": err.Error(), "events": []any{},
					"message": "Calendar unavailable, please create plan with generic availability"}
			}
			return map[string]any{"result": string(data)}
		},
	}
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func buildPrompt(req Request) string {
	var prefs string
	if p := req.Preferences; p != nil {
		prefs = fmt.Sprintf(`
User Preferences:
- Preferred study session duration: %d minutes
- Break duration: %d minutes
- Study days per week: %d
`, p.SessionDurationMinutes, p.BreakDurationMinutes, p.DaysPerWeek)
	}

	return fmt.Sprintf(`Create a personalized study plan with these details:

USER ID: %s
GOAL: %s
TOPICS TO COVER: %s
DATE RANGE: %s to %s
DIFFICULTY LEVEL: %s
%s
First, fetch the user's calendar to understand their existing commitments and availability.
Then create a realistic study schedule that works around their existing events.

Return the study plan as a valid JSON object following the specified format.`,
		req.UserID, req.Goal, strings.Join(req.Topics, ", "), req.StartDate, req.EndDate, req.DifficultyLevel, prefs)
}

// Preview is the calendar snapshot returned by the preview endpoint.
type Preview struct {
	APIStatus       string             `json:"api_status"`
	Events          []Event            `json:"events"`
	TotalEvents     int                `json:"total_events"`
	AvailableSlots  []DayAvailability  `json:"available_slots"`
	Deadlines       []Event            `json:"deadlines"`
	BusyHoursPerDay map[string]float64 `json:"busy_hours_per_day"`
	Error           string             `json:"error,omitempty"`
}

// Preview never fails; problems are reported through APIStatus and Error
// with empty data.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) *Preview {
	if err := req.Validate(); err != nil {
		return failedPreview(err)
	}
	raw, err := s.calendar.Fetch(ctx, req.UserID, req.StartDate, req.EndDate, req.AuthToken)
	if err != nil {
		slog.WarnContext(ctx, "calendar preview failed", "user_id", req.UserID, "error", err)
		return failedPreview(err)
	}

	cal := Analyze(raw, req.StartDate, req.EndDate)
	return &Preview{
		APIStatus:       "success",
		Events:          cal.Events,
		TotalEvents:     cal.TotalEvents,
		AvailableSlots:  cal.AvailableSlots,
		Deadlines:       cal.Deadlines,
		BusyHoursPerDay: cal.BusyHoursPerDay,
	}
}

func failedPreview(err error) *Preview {
	return &Preview{
		APIStatus:       "failed",
		Events:          []Event{},
		AvailableSlots:  []DayAvailability{},
		Deadlines:       []Event{},
		BusyHoursPerDay: map[string]float64{},
		Error:           err.Error(),
	}
}
