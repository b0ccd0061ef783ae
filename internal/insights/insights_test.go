package insights

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"taskpilot/cli/internal/apiclient"
	"taskpilot/cli/internal/taskstore"
)

type gate bool

func (g gate) Authenticated() bool { return bool(g) }

func TestBehaviorAndSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/insights/behavior" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"peak_hours":[9,13,0],"procrastination_risk":0.62,"burnout_risk":0.3,"weekly_productivity_forecast":[72.4,80.5,66,70,75,40,30]}`))
	}))
	defer srv.Close()

	c := NewClient(apiclient.New(srv.URL), gate(true))
	b, err := c.Behavior(context.Background())
	if err != nil {
		t.Fatalf("behavior failed: %v", err)
	}
	got := Summarize(b, taskstore.Stats{Total: 3, Done: 2})
	want := Report{
		ProductivityScore: 67,
		PeakHours:         []string{"9 AM", "1 PM", "12 AM"},
		Procrastination:   Risk{Percent: 62, Level: RiskHigh},
		Burnout:           Risk{Percent: 30, Level: RiskLow},
		Forecast: []DayForecast{
			{"Mon", 72}, {"Tue", 81}, {"Wed", 66}, {"Thu", 70}, {"Fri", 75}, {"Sat", 40}, {"Sun", 30},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimizeSchedule(t *testing.T) {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Tasks   []string `json:"tasks"`
			StartAt string   `json:"start_at"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if diff := cmp.Diff([]string{"a", "b"}, in.Tasks); diff != "" {
			t.Errorf("task ids mismatch:\n%s", diff)
		}
		if in.StartAt != "2026-05-04T09:00:00Z" {
			t.Errorf("unexpected start_at %q", in.StartAt)
		}
		_, _ = w.Write([]byte(`{"blocks":[{"task_id":"a","starts_at":"2026-05-04T09:00:00","ends_at":"2026-05-04T09:30:00","confidence":0.78,"explanation":{"strategy":"priority_and_energy_fit"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(apiclient.New(srv.URL), gate(true))
	sched, err := c.OptimizeSchedule(context.Background(), []string{"a", " ", "b"}, start)
	if err != nil {
		t.Fatalf("optimize failed: %v", err)
	}
	if len(sched.Blocks) != 1 || !sched.Blocks[0].EndsAt.Equal(start.Add(30*time.Minute)) {
		t.Fatalf("unexpected schedule: %+v", sched)
	}
	if sched.Blocks[0].Explanation["strategy"] != "priority_and_energy_fit" {
		t.Fatalf("explanation not decoded: %+v", sched.Blocks[0].Explanation)
	}
}

func TestRequiresSessionAndTasks(t *testing.T) {
	c := NewClient(apiclient.New("http://127.0.0.1:1"), gate(false))
	if _, err := c.Behavior(context.Background()); !errors.Is(err, taskstore.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := c.OptimizeSchedule(context.Background(), nil, time.Now()); !errors.Is(err, ErrNoTasks) {
		t.Fatalf("expected ErrNoTasks, got %v", err)
	}
}

func TestHelpers(t *testing.T) {
	if ProductivityScore(0, 0) != 0 || ProductivityScore(1, 2) != 50 || ProductivityScore(5, 5) != 100 {
		t.Fatal("unexpected productivity score")
	}
	for pct, want := range map[int]RiskLevel{0: RiskLow, 30: RiskLow, 31: RiskMedium, 60: RiskMedium, 61: RiskHigh} {
		if got := ClassifyRisk(pct); got != want {
			t.Fatalf("ClassifyRisk(%d)=%s, want %s", pct, got, want)
		}
	}
	for h, want := range map[int]string{0: "12 AM", 1: "1 AM", 11: "11 AM", 12: "12 PM", 13: "1 PM", 23: "11 PM"} {
		if got := PeakHourLabel(h); got != want {
			t.Fatalf("PeakHourLabel(%d)=%q, want %q", h, got, want)
		}
	}
}
