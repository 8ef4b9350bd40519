package studyplan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyrag/internal/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

func TestCalendarClient_Fetch(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/calendar", r.URL.Path)
			assert.Equal(t, "U1", r.URL.Query().Get("userId"))
			assert.Equal(t, "2025-03-01", r.URL.Query().Get("startDate"))
			assert.Equal(t, "2025-03-07", r.URL.Query().Get("endDate"))
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			w.Write([]byte(`{"events":[{"id":7,"title":"Lab","startTime":"2025-03-02T10:00:00Z","endTime":"2025-03-02T12:00:00Z","type":"class"}]}`))
		}))
		defer srv.Close()

		cal, err := NewCalendarClient(srv.URL+"/api/", srv.Client(), fastRetry).Fetch(context.Background(), "U1", "2025-03-01", "2025-03-07", "tok")
		require.NoError(t, err)
		require.Len(t, cal.Events, 1)
		assert.Equal(t, "2025-03-02T10:00:00Z", cal.Events[0].StartTime)
	})

	t.Run("Retries Server Errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"events":[]}`))
		}))
		defer srv.Close()

		_, err := NewCalendarClient(srv.URL, srv.Client(), fastRetry).Fetch(context.Background(), "U1", "2025-03-01", "2025-03-07", "tok")
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("Client Error Is Permanent", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		_, err := NewCalendarClient(srv.URL, srv.Client(), fastRetry).Fetch(context.Background(), "U1", "2025-03-01", "2025-03-07", "bad")
		assert.ErrorIs(t, err, ErrCalendarUnavailable)
		assert.ErrorContains(t, err, "status 401")
		assert.Equal(t, int32(1), calls.Load())
	})
}

func ptr[T any](v T) *T { return &v }

func TestAnalyze(t *testing.T) {
	raw := &RawCalendar{Events: []RawEvent{
		{ID: "e1", Title: ptr("Lecture"), StartTime: "2025-03-03T09:00:00Z", EndTime: "2025-03-03T12:00:00Z", Type: "class"},
		{ID: "e2", Title: ptr("Essay due"), Start: "2025-03-04", End: "2025-03-04", Type: "assignment"},
		{ID: "e3", Start: "2025-03-05T00:00:00Z", End: "2025-03-05T23:59:00Z", AllDay: true},
		{ID: "e4", Title: ptr("Marathon"), StartTime: "2025-03-06T06:00:00Z", EndTime: "2025-03-06T20:00:00Z", Type: "event"},
	}}

	cal := Analyze(raw, "2025-03-03", "2025-03-07")

	assert.Equal(t, 4, cal.TotalEvents)
	assert.Equal(t, "Untitled Event", cal.Events[2].Title)
	assert.Equal(t, "event", cal.Events[2].Type)
	require.Len(t, cal.Deadlines, 1)
	assert.Equal(t, "Essay due", cal.Deadlines[0].Title)

	assert.Equal(t, map[string]float64{
		"2025-03-03": 3,
		"2025-03-04": 1,
		"2025-03-05": 8,
		"2025-03-06": 14,
	}, cal.BusyHoursPerDay)

	// 2025-03-06 is fully booked and drops out.
	require.Len(t, cal.AvailableSlots, 4)
	byDate := map[string]DayAvailability{}
	for _, d := range cal.AvailableSlots {
		byDate[d.Date] = d
	}
	assert.Equal(t, 11.0, byDate["2025-03-03"].AvailableHours)
	assert.Equal(t, 13.0, byDate["2025-03-04"].AvailableHours)
	assert.Equal(t, 6.0, byDate["2025-03-05"].AvailableHours)
	assert.Equal(t, 14.0, byDate["2025-03-07"].AvailableHours)
	assert.Len(t, byDate["2025-03-03"].SuggestedSlots, 2)
	assert.Len(t, byDate["2025-03-07"].SuggestedSlots, 3)
}

func TestFallback(t *testing.T) {
	// 2025-03-07 is a Friday.
	cal := Fallback("2025-03-07", "2025-03-09")
	assert.True(t, cal.IsFallback)
	assert.Empty(t, cal.Events)
	require.Len(t, cal.AvailableSlots, 3)
	assert.Equal(t, 4.0, cal.AvailableSlots[0].AvailableHours)
	assert.Equal(t, 6.0, cal.AvailableSlots[1].AvailableHours)
	assert.Equal(t, 6.0, cal.AvailableSlots[2].AvailableHours)
}

func TestEventHours(t *testing.T) {
	tests := []struct {
		name string
		e    Event
		want float64
	}{
		{"All Day", Event{AllDay: true}, 8},
		{"Timed", Event{Start: "2025-01-01T10:00:00Z", End: "2025-01-01T11:30:00Z"}, 1.5},
		{"Local Time", Event{Start: "2025-01-01T10:00:00", End: "2025-01-01T12:00:00"}, 2},
		{"Date Only", Event{Start: "2025-01-01", End: "2025-01-02"}, 1},
		{"Garbage", Event{Start: "Tnope", End: "Tnope"}, 1},
		{"Reversed", Event{Start: "2025-01-01T12:00:00Z", End: "2025-01-01T10:00:00Z"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, eventHours(tt.e), 1e-9)
		})
	}
}
