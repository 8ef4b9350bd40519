package studyplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"studyrag/internal/retry"
)

var ErrCalendarUnavailable = errors.New("calendar unavailable")

// RawEvent is an event as the calendar API returns it. Either the
// startTime/endTime or the start/end pair is set.
type RawEvent struct {
	ID          any     `json:"id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	StartTime   string  `json:"startTime"`
	Start       string  `json:"start"`
	EndTime     string  `json:"endTime"`
	End         string  `json:"end"`
	AllDay      bool    `json:"allDay"`
	Type        string  `json:"type"`
	RoomID      *string `json:"roomId"`
}

type RawCalendar struct {
	Events []RawEvent `json:"events"`
}

// CalendarClient reads a user's events from the platform API.
type CalendarClient struct {
	baseURL string
	http    *http.Client
	policy  retry.Policy
}

func NewCalendarClient(baseURL string, httpClient *http.Client, policy retry.Policy) *CalendarClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CalendarClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, policy: policy}
}

// Fetch returns the events between start and end (YYYY-MM-DD). Transport
// errors and 5xx responses are retried; other statuses fail at once.
func (c *CalendarClient) Fetch(ctx context.Context, userID, start, end, authToken string) (*RawCalendar, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("startDate", start)
	q.Set("endDate", end)
	endpoint := c.baseURL + "/calendar?" + q.Encode()

	cal, err := retry.DoValue(ctx, c.policy, func() (*RawCalendar, error) {
		return c.fetchOnce(ctx, endpoint, authToken)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCalendarUnavailable, err)
	}
	slog.InfoContext(ctx, "calendar fetched", "user_id", userID, "events", len(cal.Events))
	return cal, nil
}

func (c *CalendarClient) fetchOnce(ctx context.Context, endpoint, authToken string) (*RawCalendar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		err := fmt.Errorf("calendar api returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 {
			return nil, err
		}
		return nil, retry.Permanent(err)
	}

	var cal RawCalendar
	if err := json.NewDecoder(resp.Body).Decode(&cal); err != nil {
		return nil, retry.Permanent(fmt.Errorf("decode calendar: %w", err))
	}
	return &cal, nil
}
