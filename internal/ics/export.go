// Package ics renders built day timelines as iCalendar payloads so owners
// can overlay them on an external calendar client.
package ics

import (
	"fmt"

	ical "github.com/arran4/golang-ical"

	"dayline/internal/domain"
)

// Export serializes a timeline's occupied intervals as VEVENTs. Free
// intervals are skipped: a calendar full of "Free" blocks is noise, and the
// gaps are implied by the events around them.
func Export(tl domain.Timeline) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//dayline//timeline//EN")

	for i, iv := range tl.Intervals {
		if iv.Free() {
			continue
		}
		uid := fmt.Sprintf("%s-%s-%d@dayline", tl.OwnerID, tl.Date, i)
		ev := cal.AddEvent(uid)
		ev.SetDtStampTime(iv.Start)
		ev.SetStartAt(iv.Start)
		ev.SetEndAt(iv.End)
		ev.SetSummary(iv.Title)
		desc := "kind: " + iv.Kind
		if iv.Priority != "" {
			desc += "\npriority: " + iv.Priority
		}
		ev.SetDescription(desc)
		if iv.SourceID != "" {
			ev.SetProperty(ical.ComponentProperty("X-DAYLINE-SOURCE"), iv.SourceID)
		}
	}
	return cal.Serialize()
}
