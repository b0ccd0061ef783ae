package present

import (
	"fmt"
	"math"
	"strings"
	"time"

	"taskpilot/cli/internal/taskstore"
)

func StatusLabel(s taskstore.Status) string {
	switch s {
	case taskstore.StatusTodo:
		return "To Do"
	case taskstore.StatusInProgress:
		return "In Progress"
	case taskstore.StatusDone:
		return "Done"
	case taskstore.StatusBlocked:
		return "Blocked"
	default:
		return string(s)
	}
}

// DueLabel describes due relative to now in whole days, rounding up: past
// dates are "Nd overdue", the next week counts down, later dates show the
// calendar day.
func DueLabel(due, now time.Time) string {
	if due.IsZero() {
		return ""
	}
	days := int(math.Ceil(due.Sub(now).Hours() / 24))
	switch {
	case days < 0:
		return fmt.Sprintf("%dd overdue", -days)
	case days == 0:
		return "Today"
	case days == 1:
		return "Tomorrow"
	case days < 7:
		return fmt.Sprintf("%dd left", days)
	default:
		return due.In(now.Location()).Format("Jan 2")
	}
}

func PriorityLabel(t taskstore.Task) string {
	return fmt.Sprintf("%s (%.0f)", t.Priority(), t.PriorityScore)
}

func TagList(tags []string) string {
	return strings.Join(tags, ", ")
}
