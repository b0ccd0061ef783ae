// Package present renders command results as an aligned table, JSON or
// YAML.
package present

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"taskpilot/cli/internal/insights"
	"taskpilot/cli/internal/session"
	"taskpilot/cli/internal/taskstore"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

func ParseFormat(v string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(v))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or yaml)", v)
	}
}

type Printer struct {
	W      io.Writer
	Format Format
	Now    func() time.Time
}

func (p Printer) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// structured writes v as JSON or YAML and reports whether it did.
func (p Printer) structured(v any) (bool, error) {
	switch p.Format {
	case FormatJSON:
		enc := json.NewEncoder(p.W)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(p.W)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func (p Printer) table(fn func(w io.Writer)) error {
	tw := tabwriter.NewWriter(p.W, 0, 4, 2, ' ', 0)
	fn(tw)
	return tw.Flush()
}

func (p Printer) Tasks(tasks []taskstore.Task, emptyHint string) error {
	if tasks == nil {
		tasks = []taskstore.Task{}
	}
	if ok, err := p.structured(tasks); ok {
		return err
	}
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(p.W, emptyHint)
		return err
	}
	now := p.now()
	return p.table(func(w io.Writer) {
		fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tDUE\tTAGS")
		for _, t := range tasks {
			due := ""
			if t.DueAt != nil {
				due = DueLabel(t.DueAt.Time, now)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, StatusLabel(t.Status), PriorityLabel(t), due, TagList(t.Tags))
		}
	})
}

func (p Printer) Task(t taskstore.Task) error {
	if ok, err := p.structured(t); ok {
		return err
	}
	now := p.now()
	return p.table(func(w io.Writer) {
		fmt.Fprintf(w, "ID:\t%s\n", t.ID)
		fmt.Fprintf(w, "Title:\t%s\n", t.Title)
		if t.Description != nil && *t.Description != "" {
			fmt.Fprintf(w, "Description:\t%s\n", *t.Description)
		}
		fmt.Fprintf(w, "Status:\t%s\n", StatusLabel(t.Status))
		fmt.Fprintf(w, "Priority:\t%s\n", PriorityLabel(t))
		if t.EstimatedMinutes != nil {
			fmt.Fprintf(w, "Estimate:\t%d min\n", *t.EstimatedMinutes)
		}
		if t.DueAt != nil && !t.DueAt.IsZero() {
			fmt.Fprintf(w, "Due:\t%s\n", DueLabel(t.DueAt.Time, now))
		}
		if len(t.Tags) > 0 {
			fmt.Fprintf(w, "Tags:\t%s\n", TagList(t.Tags))
		}
	})
}

func (p Printer) Stats(s taskstore.Stats) error {
	if ok, err := p.structured(s); ok {
		return err
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintf(w, "Total:\t%d\n", s.Total)
		fmt.Fprintf(w, "Done:\t%d\n", s.Done)
		fmt.Fprintf(w, "In Progress:\t%d\n", s.InProgress)
		fmt.Fprintf(w, "To Do:\t%d\n", s.Todo)
		if s.Blocked > 0 {
			fmt.Fprintf(w, "Blocked:\t%d\n", s.Blocked)
		}
	})
}

func (p Printer) User(u session.User) error {
	if ok, err := p.structured(u); ok {
		return err
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintf(w, "User:\t%s (%s)\n", u.DisplayName(), u.Initials())
		fmt.Fprintf(w, "Username:\t%s\n", u.Username)
		if u.Email != "" {
			fmt.Fprintf(w, "Email:\t%s\n", u.Email)
		}
		if !u.CreatedAt.IsZero() {
			fmt.Fprintf(w, "Member since:\t%s\n", u.CreatedAt.Format("Jan 2, 2006"))
		}
	})
}

func (p Printer) Report(r insights.Report) error {
	if ok, err := p.structured(r); ok {
		return err
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintf(w, "Productivity:\t%d%%\n", r.ProductivityScore)
		fmt.Fprintf(w, "Peak hours:\t%s\n", strings.Join(r.PeakHours, ", "))
		fmt.Fprintf(w, "Procrastination risk:\t%d%% (%s)\n", r.Procrastination.Percent, r.Procrastination.Level)
		fmt.Fprintf(w, "Burnout risk:\t%d%% (%s)\n", r.Burnout.Percent, r.Burnout.Level)
		days := make([]string, 0, len(r.Forecast))
		for _, d := range r.Forecast {
			days = append(days, fmt.Sprintf("%s %d", d.Day, d.Value))
		}
		fmt.Fprintf(w, "Weekly forecast:\t%s\n", strings.Join(days, "  "))
	})
}

func (p Printer) Schedule(s insights.Schedule) error {
	if ok, err := p.structured(s); ok {
		return err
	}
	return p.table(func(w io.Writer) {
		fmt.Fprintln(w, "TASK\tSTARTS\tENDS\tCONFIDENCE")
		for _, b := range s.Blocks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\n", b.TaskID, b.StartsAt.Format("Mon 15:04"), b.EndsAt.Format("15:04"), b.Confidence*100)
		}
	})
}

func (p Printer) Breakdown(b taskstore.Breakdown) error {
	if ok, err := p.structured(b); ok {
		return err
	}
	for i, s := range b.GeneratedSubtasks {
		if _, err := fmt.Fprintf(p.W, "%d. %s\n", i+1, s); err != nil {
			return err
		}
	}
	return nil
}

func (p Printer) Estimate(e taskstore.Estimate) error {
	if ok, err := p.structured(e); ok {
		return err
	}
	_, err := fmt.Fprintf(p.W, "%d min (%.0f%% confidence)\n", e.EstimatedMinutes, e.Confidence*100)
	return err
}

// Message prints a one-line notice; structured formats get {"message": ...}.
func (p Printer) Message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if ok, err := p.structured(map[string]string{"message": msg}); ok {
		return err
	}
	_, err := fmt.Fprintln(p.W, msg)
	return err
}

// Pairs prints ordered key/value rows. Structured formats get a flat object.
func (p Printer) Pairs(rows [][2]string) error {
	obj := make(map[string]string, len(rows))
	for _, r := range rows {
		obj[r[0]] = r[1]
	}
	if ok, err := p.structured(obj); ok {
		return err
	}
	return p.table(func(w io.Writer) {
		for _, r := range rows {
			fmt.Fprintf(w, "%s:\t%s\n", r[0], r[1])
		}
	})
}
