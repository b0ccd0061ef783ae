package taskstore

import (
	"fmt"
	"strings"
	"time"

	"taskpilot/cli/internal/apiclient"
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusBlocked:
		return true
	default:
		return false
	}
}

func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q (want todo, in_progress, done or blocked)", v)
	}
	return s, nil
}

// Filter is the active status filter of the derived view.
type Filter string

const FilterAll Filter = "all"

func ParseFilter(v string) (Filter, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" || v == string(FilterAll) {
		return FilterAll, nil
	}
	s, err := ParseStatus(v)
	if err != nil {
		return "", fmt.Errorf("unknown filter %q (want all, todo, in_progress, done or blocked)", v)
	}
	return Filter(s), nil
}

func (f Filter) matches(s Status) bool {
	return f == FilterAll || f == "" || Status(f) == s
}

type Task struct {
	ID               string          `json:"id" yaml:"id"`
	Title            string          `json:"title" yaml:"title"`
	Description      *string         `json:"description,omitempty" yaml:"description,omitempty"`
	Status           Status          `json:"status" yaml:"status"`
	PriorityScore    float64         `json:"priority_score" yaml:"priority_score"`
	EstimatedMinutes *int            `json:"estimated_minutes,omitempty" yaml:"estimated_minutes,omitempty"`
	DueAt            *apiclient.Time `json:"due_at,omitempty" yaml:"due_at,omitempty"`
	PredictedDueAt   *apiclient.Time `json:"predicted_due_at,omitempty" yaml:"predicted_due_at,omitempty"`
	ParentTaskID     *string         `json:"parent_task_id,omitempty" yaml:"parent_task_id,omitempty"`
	Tags             []string        `json:"tags" yaml:"tags"`
	CreatedAt        apiclient.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt        apiclient.Time  `json:"updated_at" yaml:"updated_at"`
}

func (t Task) Priority() Priority {
	return ClassifyPriority(t.PriorityScore)
}

func (t Task) matchesQuery(q string) bool {
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(t.Title), q) {
		return true
	}
	if t.Description != nil && strings.Contains(strings.ToLower(*t.Description), q) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Fields is a create or update payload. Nil fields are not sent.
type Fields struct {
	Title        *string    `json:"title,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	ParentTaskID *string    `json:"parent_task_id,omitempty"`
	Tags         *[]string  `json:"tags,omitempty"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func ClassifyPriority(score float64) Priority {
	switch {
	case score >= 70:
		return PriorityHigh
	case score >= 40:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

type Stats struct {
	Total      int `json:"total" yaml:"total"`
	Done       int `json:"done" yaml:"done"`
	InProgress int `json:"in_progress" yaml:"in_progress"`
	Todo       int `json:"todo" yaml:"todo"`
	Blocked    int `json:"blocked" yaml:"blocked"`
}

type Breakdown struct {
	TaskID            string   `json:"task_id" yaml:"task_id"`
	GeneratedSubtasks []string `json:"generated_subtasks" yaml:"generated_subtasks"`
}

type Estimate struct {
	TaskID           string  `json:"task_id" yaml:"task_id"`
	EstimatedMinutes int     `json:"estimated_minutes" yaml:"estimated_minutes"`
	Confidence       float64 `json:"confidence" yaml:"confidence"`
}
