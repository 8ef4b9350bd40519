package studyplan

import (
	"log/slog"
	"strings"
	"time"
)

const (
	dateLayout = "2006-01-02"

	studyWindowHours = 14.0 // 8am to 10pm
	allDayHours      = 8.0
	unknownHours     = 1.0
)

var deadlineTypes = map[string]bool{"assignment": true, "deadline": true, "quiz": true}

type Event struct {
	ID          any     `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	AllDay      bool    `json:"all_day"`
	Type        string  `json:"type"`
	RoomID      *string `json:"room_id"`
}

type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type DayAvailability struct {
	Date           string  `json:"date"`
	AvailableHours float64 `json:"available_hours"`
	SuggestedSlots []Slot  `json:"suggested_slots"`
}

// Calendar is the availability snapshot handed to the planner.
type Calendar struct {
	Events          []Event            `json:"events"`
	TotalEvents     int                `json:"total_events"`
	Deadlines       []Event            `json:"deadlines"`
	AvailableSlots  []DayAvailability  `json:"available_slots"`
	BusyHoursPerDay map[string]float64 `json:"busy_hours_per_day"`
	StartDate       string             `json:"start_date"`
	EndDate         string             `json:"end_date"`
	IsFallback      bool               `json:"is_fallback,omitempty"`
	Message         string             `json:"message,omitempty"`
}

var (
	openDaySlots = []Slot{{"09:00", "12:00"}, {"14:00", "17:00"}, {"19:00", "21:00"}}
	busyDaySlots = []Slot{{"09:00", "11:00"}, {"19:00", "21:00"}}
)

// Analyze normalizes raw events and derives per-day availability.
func Analyze(raw *RawCalendar, start, end string) *Calendar {
	events := make([]Event, 0, len(raw.Events))
	for _, e := range raw.Events {
		events = append(events, normalize(e))
	}

	deadlines := []Event{}
	for _, e := range events {
		if deadlineTypes[e.Type] {
			deadlines = append(deadlines, e)
		}
	}

	return &Calendar{
		Events:          events,
		TotalEvents:     len(events),
		Deadlines:       deadlines,
		AvailableSlots:  availability(events, start, end),
		BusyHoursPerDay: busyHours(events),
		StartDate:       start,
		EndDate:         end,
	}
}

// Fallback assumes 4 free hours on weekdays and 6 on weekends.
func Fallback(start, end string) *Calendar {
	slots := []DayAvailability{}
	eachDay(start, end, func(day time.Time) {
		hours := 4.0
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			hours = 6.0
		}
		slots = append(slots, DayAvailability{Date: day.Format(dateLayout), AvailableHours: hours, SuggestedSlots: openDaySlots})
	})
	return &Calendar{
		Events:          []Event{},
		Deadlines:       []Event{},
		AvailableSlots:  slots,
		BusyHoursPerDay: map[string]float64{},
		StartDate:       start,
		EndDate:         end,
		IsFallback:      true,
		Message:         "Calendar data unavailable. Using estimated availability.",
	}
}

func normalize(e RawEvent) Event {
	out := Event{
		ID:          e.ID,
		Title:       "Untitled Event",
		Description: e.Description,
		Start:       firstNonEmpty(e.StartTime, e.Start),
		End:         firstNonEmpty(e.EndTime, e.End),
		AllDay:      e.AllDay,
		Type:        e.Type,
		RoomID:      e.RoomID,
	}
	if e.Title != nil {
		out.Title = *e.Title
	}
	if out.Type == "" {
		out.Type = "event"
	}
	return out
}

func availability(events []Event, start, end string) []DayAvailability {
	out := []DayAvailability{}
	eachDay(start, end, func(day time.Time) {
		date := day.Format(dateLayout)
		var busy float64
		var dayEvents int
		for _, e := range events {
			if strings.HasPrefix(e.Start, date) {
				busy += eventHours(e)
				dayEvents++
			}
		}
		free := max(0, studyWindowHours-busy)
		if free < 1 {
			return
		}
		slots := openDaySlots
		if dayEvents > 0 {
			slots = busyDaySlots
		}
		out = append(out, DayAvailability{Date: date, AvailableHours: free, SuggestedSlots: slots})
	})
	return out
}

func busyHours(events []Event) map[string]float64 {
	out := map[string]float64{}
	for _, e := range events {
		if e.Start == "" {
			continue
		}
		date, _, _ := strings.Cut(e.Start, "T")
		out[date] += eventHours(e)
	}
	return out
}

// eventHours is 8 for all-day events, the timestamp difference when both
// ends carry a time, and 1 otherwise.
func eventHours(e Event) float64 {
	if e.AllDay {
		return allDayHours
	}
	if !strings.Contains(e.Start, "T") || !strings.Contains(e.End, "T") {
		return unknownHours
	}
	s, err1 := parseTimestamp(e.Start)
	f, err2 := parseTimestamp(e.End)
	if err1 != nil || err2 != nil || f.Before(s) {
		return unknownHours
	}
	return f.Sub(s).Hours()
}

func parseTimestamp(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", v)
}

func eachDay(start, end string, fn func(time.Time)) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		slog.Error("invalid calendar start date", "start", start, "error", err)
		return
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		slog.Error("invalid calendar end date", "end", end, "error", err)
		return
	}
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		fn(d)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
