package services

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// TaskInput carries the writable task fields. A zero Deadline means the
// client did not send one.
type TaskInput struct {
	Name         string
	Description  string
	Deadline     time.Time
	Completed    bool
	AssignedUser string
	// AssignedUserName is accepted but the stored name always comes from
	// the assigned user.
	AssignedUserName string
}

func (in TaskInput) normalized() TaskInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.AssignedUser = strings.TrimSpace(in.AssignedUser)
	if !in.Deadline.IsZero() {
		in.Deadline = in.Deadline.UTC().Truncate(time.Millisecond)
	}
	return in
}

type UserInput struct {
	Name         string
	Email        string
	PendingTasks []string
}

func (in UserInput) normalized() UserInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PendingTasks = dedupe(in.PendingTasks)
	return in
}

// dedupe trims ids, drops blanks and keeps the first occurrence of each.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ParseCompleted accepts a bool or a case-insensitive "true"/"false" string.
// Anything else is false.
func ParseCompleted(v interface{}) bool {
	switch c := v.(type) {
	case bool:
		return c
	case string:
		return strings.EqualFold(strings.TrimSpace(c), "true")
	default:
		return false
	}
}

var deadlineLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDeadline accepts RFC3339 timestamps, plain dates and epoch
// milliseconds, as a number or a numeric string.
func ParseDeadline(v interface{}) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, !d.IsZero()
	case float64:
		return time.UnixMilli(int64(d)).UTC(), true
	case int64:
		return time.UnixMilli(d).UTC(), true
	case int:
		return time.UnixMilli(int64(d)).UTC(), true
	case json.Number:
		if ms, err := d.Int64(); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return time.Time{}, false
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, false
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		for _, layout := range deadlineLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
