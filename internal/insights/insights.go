// Package insights fetches the server's behavior analysis and schedule
// suggestions and turns them into display-ready readings.
package insights

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"taskpilot/cli/internal/apiclient"
	"taskpilot/cli/internal/taskstore"
)

var ErrNoTasks = errors.New("no tasks to schedule")

type Requester interface {
	Do(ctx context.Context, method, path string, body, out any) error
}

type Behavior struct {
	PeakHours           []int     `json:"peak_hours" yaml:"peak_hours"`
	ProcrastinationRisk float64   `json:"procrastination_risk" yaml:"procrastination_risk"`
	BurnoutRisk         float64   `json:"burnout_risk" yaml:"burnout_risk"`
	WeeklyForecast      []float64 `json:"weekly_productivity_forecast" yaml:"weekly_productivity_forecast"`
}

type Block struct {
	TaskID      string         `json:"task_id" yaml:"task_id"`
	StartsAt    apiclient.Time `json:"starts_at" yaml:"starts_at"`
	EndsAt      apiclient.Time `json:"ends_at" yaml:"ends_at"`
	Confidence  float64        `json:"confidence" yaml:"confidence"`
	Explanation map[string]any `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

type Schedule struct {
	Blocks []Block `json:"blocks" yaml:"blocks"`
}

type Client struct {
	api  Requester
	gate taskstore.Gate
}

func NewClient(api Requester, gate taskstore.Gate) *Client {
	return &Client{api: api, gate: gate}
}

func (c *Client) checkSession() error {
	if c.gate != nil && !c.gate.Authenticated() {
		return taskstore.ErrNoSession
	}
	return nil
}

func (c *Client) Behavior(ctx context.Context) (Behavior, error) {
	if err := c.checkSession(); err != nil {
		return Behavior{}, err
	}
	var out Behavior
	if err := c.api.Do(ctx, http.MethodGet, "/v1/insights/behavior", nil, &out); err != nil {
		return Behavior{}, fmt.Errorf("load insights: %w", err)
	}
	return out, nil
}

// OptimizeSchedule asks the server to lay taskIDs out back to back from
// startAt, in the given order.
func (c *Client) OptimizeSchedule(ctx context.Context, taskIDs []string, startAt time.Time) (Schedule, error) {
	ids := make([]string, 0, len(taskIDs))
	for _, id := range taskIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return Schedule{}, ErrNoTasks
	}
	if err := c.checkSession(); err != nil {
		return Schedule{}, err
	}
	body := map[string]any{
		"tasks":    ids,
		"start_at": startAt.UTC().Format(time.RFC3339),
	}
	var out Schedule
	if err := c.api.Do(ctx, http.MethodPost, "/v1/schedule/optimize", body, &out); err != nil {
		return Schedule{}, fmt.Errorf("optimize schedule: %w", err)
	}
	return out, nil
}

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type Risk struct {
	Percent int       `json:"percent" yaml:"percent"`
	Level   RiskLevel `json:"level" yaml:"level"`
}

type DayForecast struct {
	Day   string `json:"day" yaml:"day"`
	Value int    `json:"value" yaml:"value"`
}

// Report is the insights page: server readings plus the completion score
// computed from the local cache.
type Report struct {
	ProductivityScore int           `json:"productivity_score" yaml:"productivity_score"`
	PeakHours         []string      `json:"peak_hours" yaml:"peak_hours"`
	Procrastination   Risk          `json:"procrastination" yaml:"procrastination"`
	Burnout           Risk          `json:"burnout" yaml:"burnout"`
	Forecast          []DayForecast `json:"forecast" yaml:"forecast"`
}

var weekdays = [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func Summarize(b Behavior, stats taskstore.Stats) Report {
	r := Report{
		ProductivityScore: ProductivityScore(stats.Done, stats.Total),
		PeakHours:         make([]string, 0, len(b.PeakHours)),
		Procrastination:   NewRisk(b.ProcrastinationRisk),
		Burnout:           NewRisk(b.BurnoutRisk),
		Forecast:          make([]DayForecast, 0, len(b.WeeklyForecast)),
	}
	for _, h := range b.PeakHours {
		r.PeakHours = append(r.PeakHours, PeakHourLabel(h))
	}
	for i, v := range b.WeeklyForecast {
		if i >= len(weekdays) {
			break
		}
		r.Forecast = append(r.Forecast, DayForecast{Day: weekdays[i], Value: roundHalfUp(v)})
	}
	return r
}

// ProductivityScore is the percentage of tasks done, 0 with no tasks.
func ProductivityScore(done, total int) int {
	if total < 1 {
		total = 1
	}
	return roundHalfUp(float64(done) / float64(total) * 100)
}

// NewRisk converts a 0..1 risk fraction to a percentage and level.
func NewRisk(fraction float64) Risk {
	pct := roundHalfUp(fraction * 100)
	return Risk{Percent: pct, Level: ClassifyRisk(pct)}
}

func ClassifyRisk(percent int) RiskLevel {
	switch {
	case percent > 60:
		return RiskHigh
	case percent > 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// PeakHourLabel renders a 0..23 hour on a 12-hour clock.
func PeakHourLabel(hour int) string {
	hour = ((hour % 24) + 24) % 24
	switch {
	case hour == 0:
		return "12 AM"
	case hour == 12:
		return "12 PM"
	case hour > 12:
		return fmt.Sprintf("%d PM", hour-12)
	default:
		return fmt.Sprintf("%d AM", hour)
	}
}

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}
