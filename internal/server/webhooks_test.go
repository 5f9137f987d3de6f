package server

import "testing"

func TestEventFilter(t *testing.T) {
	cases := []struct {
		name   string
		events []string
		evt    string
		want   bool
	}{
		{"empty passes all", nil, "commitment.created", true},
		{"blank entries pass all", []string{" ", ""}, "owner.init", true},
		{"exact match", []string{"reminder.due"}, "reminder.due", true},
		{"exact miss", []string{"reminder.due"}, "commitment.created", false},
		{"prefix match", []string{"commitment.*"}, "commitment.successor.created", true},
		{"prefix miss", []string{"commitment.*"}, "template.created", false},
		{"prefix needs dot", []string{"commitment.*"}, "commitments", false},
		{"mixed", []string{"commitment.*", "reminder.due"}, "reminder.due", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEventFilter(tc.events)
			if got := f.match(tc.evt); got != tc.want {
				t.Fatalf("match(%q) = %v, want %v", tc.evt, got, tc.want)
			}
		})
	}
}
