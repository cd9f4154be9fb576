package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/IshaanNene/calsync/internal/config"
	"github.com/IshaanNene/calsync/internal/types"
)

// eventsPath is the Events Calendar REST collection.
const eventsPath = "/wp-json/tribe/events/v1/events"

// tribeLayout is the date layout the Events Calendar API reads and writes.
const tribeLayout = "2006-01-02 15:04:05"

// ErrInvalidSchedule means a record has no usable date or time.
var ErrInvalidSchedule = errors.New("invalid match date or time")

// EventRef identifies a published calendar event.
type EventRef struct {
	ID      int64 `json:"id"`
	Created bool  `json:"created"`
}

// Sink receives match records as calendar events.
type Sink interface {
	// SyncEvent creates or updates the event of a match. Events are looked
	// up by title and start date, so repeated calls do not duplicate them.
	SyncEvent(ctx context.Context, rec *types.MatchRecord) (EventRef, error)
}

// WordPressSink publishes to The Events Calendar through the WordPress REST
// API with an application password.
type WordPressSink struct {
	client     *http.Client
	endpoint   string
	username   string
	password   string
	location   *time.Location
	duration   time.Duration
	categories []string
	tags       []string
	logger     *slog.Logger
}

// event is the request and response body of one tribe event.
type event struct {
	ID          int64    `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	StartDate   string   `json:"start_date"`
	EndDate     string   `json:"end_date,omitempty"`
	AllDay      bool     `json:"all_day"`
	Timezone    string   `json:"timezone,omitempty"`
	Venue       string   `json:"venue,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// NewWordPressSink creates a sink from publisher configuration.
func NewWordPressSink(cfg config.PublisherConfig, logger *slog.Logger) (*WordPressSink, error) {
	if cfg.BaseURL == "" {
		return nil, &types.ConfigurationError{Field: "publisher.base_url"}
	}
	tz := cfg.Timezone
	if tz == "" {
		tz = "Europe/Copenhagen"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &types.ConfigurationError{Field: "publisher.timezone", Reason: err.Error()}
	}
	duration := cfg.EventDuration
	if duration <= 0 {
		duration = 2 * time.Hour
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &WordPressSink{
		client:     &http.Client{Timeout: timeout},
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + eventsPath,
		username:   cfg.Username,
		password:   cfg.AppPassword,
		location:   loc,
		duration:   duration,
		categories: cfg.Categories,
		tags:       cfg.Tags,
		logger:     logger.With("component", "wordpress"),
	}, nil
}

// SyncEvent upserts the calendar event of rec.
func (w *WordPressSink) SyncEvent(ctx context.Context, rec *types.MatchRecord) (EventRef, error) {
	start, err := w.startTime(rec)
	if err != nil {
		return EventRef{}, &types.PublishError{MatchID: rec.MatchID, Err: err}
	}
	payload := w.buildEvent(rec, start)

	existing, err := w.find(ctx, payload.Title, start)
	if err != nil {
		return EventRef{}, w.publishErr(rec, err)
	}

	target, created := w.endpoint, true
	if existing != 0 {
		target, created = w.endpoint+"/"+strconv.FormatInt(existing, 10), false
	}

	var saved event
	if err := w.do(ctx, http.MethodPost, target, payload, &saved); err != nil {
		return EventRef{}, w.publishErr(rec, err)
	}
	if saved.ID == 0 {
		saved.ID = existing
	}

	w.logger.Debug("event synced", "match_id", rec.MatchID, "event_id", saved.ID, "created", created)
	return EventRef{ID: saved.ID, Created: created}, nil
}

func (w *WordPressSink) startTime(rec *types.MatchRecord) (time.Time, error) {
	clock := types.Deref(rec.Time)
	if clock == "" {
		clock = "00:00"
	}
	clock = strings.ReplaceAll(clock, ".", ":")
	t, err := time.ParseInLocation("2006-01-02 15:04", rec.Date+" "+clock, w.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidSchedule, rec.Date, clock)
	}
	return t, nil
}

func (w *WordPressSink) buildEvent(rec *types.MatchRecord, start time.Time) event {
	categories := append([]string(nil), w.categories...)
	if rec.PoolName != "" {
		categories = append(categories, rec.PoolName)
	}
	tags := append([]string(nil), w.tags...)
	tags = append(tags, rec.HomeTeam, rec.AwayTeam)

	return event{
		Title:       rec.Title(),
		Description: fmt.Sprintf("Match between %s and %s at %s", rec.HomeTeam, rec.AwayTeam, rec.Venue),
		Status:      "publish",
		StartDate:   start.Format(tribeLayout),
		EndDate:     start.Add(w.duration).Format(tribeLayout),
		Timezone:    w.location.String(),
		Venue:       rec.Venue,
		Categories:  categories,
		Tags:        tags,
	}
}

// find returns the id of an event with the same title on the same day, or 0.
func (w *WordPressSink) find(ctx context.Context, title string, start time.Time) (int64, error) {
	day := start.Format("2006-01-02")
	q := url.Values{}
	q.Set("search", title)
	q.Set("start_date", day+" 00:00:00")
	q.Set("end_date", day+" 23:59:59")

	var page struct {
		Events []event `json:"events"`
	}
	if err := w.do(ctx, http.MethodGet, w.endpoint+"?"+q.Encode(), nil, &page); err != nil {
		var se *statusError
		// The plugin answers 404 when a search has no results.
		if errors.As(err, &se) && se.status == http.StatusNotFound {
			return 0, nil
		}
		return 0, err
	}

	for _, ev := range page.Events {
		if html.UnescapeString(ev.Title) == title && strings.HasPrefix(ev.StartDate, day) {
			return ev.ID, nil
		}
	}
	return 0, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func (w *WordPressSink) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (w *WordPressSink) publishErr(rec *types.MatchRecord, err error) error {
	pe := &types.PublishError{MatchID: rec.MatchID, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		pe.Status = se.status
	}
	return pe
}
