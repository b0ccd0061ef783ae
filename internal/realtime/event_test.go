package realtime

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	cases := []struct {
		name      string
		text      string
		wantType  string
		malformed bool
	}{
		{name: "with payload", text: `{"type":"task.created","payload":{"id":"1"}}`, wantType: EventTaskCreated},
		{name: "no payload", text: `{"type":"task.deleted"}`, wantType: EventTaskDeleted},
		{name: "unknown type still parses", text: `{"type":"user.updated"}`, wantType: "user.updated"},
		{name: "not json", text: `hello`, malformed: true},
		{name: "array", text: `[{"type":"task.created"}]`, malformed: true},
		{name: "missing type", text: `{"payload":1}`, malformed: true},
		{name: "numeric type", text: `{"type":3}`, malformed: true},
		{name: "blank type", text: `{"type":"  "}`, malformed: true},
		{name: "null", text: `null`, malformed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := ParseEvent(tc.text)
			if tc.malformed {
				if !errors.Is(err, ErrMalformedEvent) {
					t.Fatalf("expected ErrMalformedEvent, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ev.Type != tc.wantType {
				t.Fatalf("type=%q, want %q", ev.Type, tc.wantType)
			}
		})
	}
}

func TestIsTaskMutation(t *testing.T) {
	for _, typ := range []string{EventTaskCreated, EventTaskUpdated, EventTaskDeleted} {
		if !IsTaskMutation(typ) {
			t.Fatalf("%s should be a mutation", typ)
		}
	}
	for _, typ := range []string{"", "task.viewed", "TASK.CREATED"} {
		if IsTaskMutation(typ) {
			t.Fatalf("%q should be ignored", typ)
		}
	}
}
