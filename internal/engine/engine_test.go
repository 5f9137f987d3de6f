package engine_test

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"dayline/internal/config"
	"dayline/internal/db"
	"dayline/internal/domain"
	"dayline/internal/engine"
	"dayline/internal/migrate"
	"dayline/internal/repo"
)

// 2024-01-01 is a Monday; day index 0 throughout these tests.
const monday = "2024-01-01"

func at(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2024, 1, 1, hour, min, 0, 0, time.UTC)
}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("alice")
	eng := engine.New(conn, cfg)
	// Deterministic but strictly advancing, so creation order is visible in
	// created_at columns.
	var tick int
	eng.Now = func() time.Time {
		tick++
		return time.Date(2024, 1, 1, 0, 0, tick, 0, time.UTC)
	}
	ctx := context.Background()
	if _, err := eng.InitOwner(ctx, "alice", "Alice", "tester"); err != nil {
		t.Fatalf("init owner: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) addTemplate(t *testing.T, title, kind, start string, minutes int, days ...int) domain.Template {
	t.Helper()
	tpl, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		OwnerID:         "alice",
		Title:           title,
		Kind:            kind,
		StartTime:       start,
		DurationMinutes: minutes,
		Days:            days,
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatalf("create template %q: %v", title, err)
	}
	return tpl
}

func (env testEnv) addCommitment(t *testing.T, title string, due *time.Time, minutes int, priority string) domain.Commitment {
	t.Helper()
	c, conflict, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID:         "alice",
		Title:           title,
		Due:             due,
		DurationMinutes: minutes,
		Priority:        priority,
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatalf("create commitment %q: %v", title, err)
	}
	if conflict != nil {
		t.Fatalf("create commitment %q: unexpected conflict with %q", title, conflict.Blocking.Title)
	}
	return c
}

func (env testEnv) timeline(t *testing.T, date string) domain.Timeline {
	t.Helper()
	tl, err := env.Engine.BuildTimeline(env.Ctx, "alice", date)
	if err != nil {
		t.Fatalf("build timeline: %v", err)
	}
	return tl
}

// checkCoverage asserts the timeline partitions the window exactly: starts
// at window start, ends at window end, no gaps, no overlaps.
func checkCoverage(t *testing.T, tl domain.Timeline) {
	t.Helper()
	if len(tl.Intervals) == 0 {
		t.Fatal("empty timeline")
	}
	if !tl.Intervals[0].Start.Equal(tl.WindowStart) {
		t.Fatalf("timeline starts at %v, window starts at %v", tl.Intervals[0].Start, tl.WindowStart)
	}
	last := tl.Intervals[len(tl.Intervals)-1]
	if !last.End.Equal(tl.WindowEnd) {
		t.Fatalf("timeline ends at %v, window ends at %v", last.End, tl.WindowEnd)
	}
	for i, iv := range tl.Intervals {
		if !iv.End.After(iv.Start) {
			t.Fatalf("interval %d %q is empty or inverted", i, iv.Title)
		}
		if i > 0 && !iv.Start.Equal(tl.Intervals[i-1].End) {
			t.Fatalf("gap or overlap between %q and %q", tl.Intervals[i-1].Title, iv.Title)
		}
	}
}

func TestTimelineEmptyDay(t *testing.T) {
	env := newTestEnv(t)
	tl := env.timeline(t, monday)
	checkCoverage(t, tl)
	if len(tl.Intervals) != 1 {
		t.Fatalf("want one free interval, got %d", len(tl.Intervals))
	}
	iv := tl.Intervals[0]
	if !iv.Free() || !iv.Start.Equal(at(t, 8, 0)) || !iv.End.Equal(at(t, 23, 0)) {
		t.Fatalf("want free 08:00-23:00, got %q %v-%v", iv.Kind, iv.Start, iv.End)
	}
}

func TestTimelineTemplateWithPrep(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Algorithms", domain.KindClass, "09:00", 60, 0, 2)

	tl := env.timeline(t, monday)
	checkCoverage(t, tl)
	want := []struct {
		kind  string
		start time.Time
		end   time.Time
	}{
		{domain.KindFree, at(t, 8, 0), at(t, 8, 30)},
		{domain.KindPrep, at(t, 8, 30), at(t, 9, 0)},
		{domain.KindClass, at(t, 9, 0), at(t, 10, 0)},
		{domain.KindFree, at(t, 10, 0), at(t, 23, 0)},
	}
	if len(tl.Intervals) != len(want) {
		t.Fatalf("want %d intervals, got %d", len(want), len(tl.Intervals))
	}
	for i, w := range want {
		iv := tl.Intervals[i]
		if iv.Kind != w.kind || !iv.Start.Equal(w.start) || !iv.End.Equal(w.end) {
			t.Fatalf("interval %d: want %s %v-%v, got %s %v-%v", i, w.kind, w.start, w.end, iv.Kind, iv.Start, iv.End)
		}
	}
	if tl.Intervals[1].Title != "Prep for Algorithms" {
		t.Fatalf("prep title: %q", tl.Intervals[1].Title)
	}

	// Tuesday (day 1) is not in the recurrence; the day stays free.
	tue := env.timeline(t, "2024-01-02")
	if len(tue.Intervals) != 1 || !tue.Intervals[0].Free() {
		t.Fatalf("tuesday should be all free, got %d intervals", len(tue.Intervals))
	}

	// Wednesday (day 2) is.
	wed := env.timeline(t, "2024-01-03")
	checkCoverage(t, wed)
	if len(wed.Intervals) != 4 || wed.Intervals[2].Kind != domain.KindClass {
		t.Fatalf("wednesday should carry the class, got %d intervals", len(wed.Intervals))
	}
}

func TestTimelineNoPrepForUntrackedKinds(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Lunch", domain.KindMeal, "12:00", 45, 0)

	tl := env.timeline(t, monday)
	checkCoverage(t, tl)
	for _, iv := range tl.Intervals {
		if iv.Kind == domain.KindPrep {
			t.Fatalf("meal templates should not grow prep buffers")
		}
	}
}

func TestTimelineDueCommitments(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Standup", domain.KindWork, "10:00", 30, 0)
	due := at(t, 14, 0)
	c := env.addCommitment(t, "Write report", &due, 90, domain.PriorityHigh)

	// Completed and unplaced commitments never appear on the timeline.
	doneDue := at(t, 16, 0)
	done := env.addCommitment(t, "Old errand", &doneDue, 30, domain.PriorityLow)
	if _, err := env.Engine.CompleteCommitment(env.Ctx, done.ID, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	env.addCommitment(t, "Someday", nil, 30, domain.PriorityLow)

	tl := env.timeline(t, monday)
	checkCoverage(t, tl)
	var found bool
	for _, iv := range tl.Intervals {
		if iv.SourceID == c.ID {
			found = true
			if iv.Fixed || iv.Kind != domain.KindTask || !iv.End.Equal(at(t, 15, 30)) {
				t.Fatalf("commitment interval wrong: %+v", iv)
			}
		}
		if iv.SourceID == done.ID {
			t.Fatal("completed commitment on timeline")
		}
		if iv.Title == "Someday" {
			t.Fatal("unplaced commitment on timeline")
		}
	}
	if !found {
		t.Fatal("due commitment missing from timeline")
	}
}

func TestTimelineWindowClamping(t *testing.T) {
	env := newTestEnv(t)
	// Starts before the window opens; only the visible tail remains.
	env.addTemplate(t, "Early run", domain.KindRoutine, "07:30", 60, 0)
	// Runs past the window close; clamped to it.
	lateDue := at(t, 22, 30)
	env.addCommitment(t, "Late film", &lateDue, 90, domain.PriorityLow)
	// Entirely outside the window; dropped.
	nightDue := at(t, 23, 30)
	env.addCommitment(t, "Midnight snack", &nightDue, 15, domain.PriorityLow)

	tl := env.timeline(t, monday)
	checkCoverage(t, tl)
	first := tl.Intervals[0]
	if first.Title != "Early run" || !first.Start.Equal(at(t, 8, 0)) || !first.End.Equal(at(t, 8, 30)) {
		t.Fatalf("want clamped run 08:00-08:30, got %q %v-%v", first.Title, first.Start, first.End)
	}
	last := tl.Intervals[len(tl.Intervals)-1]
	if last.Title != "Late film" || !last.End.Equal(at(t, 23, 0)) {
		t.Fatalf("want clamped film ending 23:00, got %q ending %v", last.Title, last.End)
	}
	for _, iv := range tl.Intervals {
		if iv.Title == "Midnight snack" {
			t.Fatal("out-of-window commitment on timeline")
		}
	}
}

func TestTimelineRejectsCorruptWindow(t *testing.T) {
	env := newTestEnv(t)
	// A stored config row bypasses Validate, so the builder has to refuse
	// an unparseable window itself.
	bad := config.Default("alice")
	bad.Window.Start = "late"
	if err := env.Engine.Repo.UpsertOwnerConfig(env.Ctx, "alice", bad); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	if _, err := env.Engine.BuildTimeline(env.Ctx, "alice", monday); err == nil {
		t.Fatal("expected an error for a corrupt window")
	} else if !strings.Contains(err.Error(), "window.start") {
		t.Fatalf("error %q does not point at window.start", err)
	}
}

func TestTimelineTieAndDeterminism(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Seminar", domain.KindClass, "09:00", 60, 0)

	// A same-start commitment shorter than the class would be swallowed
	// whole by the walk, so use a longer one, force-placed.
	due := at(t, 9, 0)
	_, conflict, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID:         "alice",
		Title:           "Same-start task",
		Due:             &due,
		DurationMinutes: 90,
		Priority:        domain.PriorityMedium,
		ActorID:         "tester",
		Force:           true,
	})
	if err != nil {
		t.Fatalf("create commitment: %v", err)
	}
	if conflict != nil {
		t.Fatalf("force create still reported a conflict with %q", conflict.Blocking.Title)
	}

	tl := env.timeline(t, monday)
	checkCoverage(t, tl)
	// The fixed block wins the 09:00 tie; only the commitment's tail past
	// the class remains visible.
	var classIdx, taskIdx int = -1, -1
	for i, iv := range tl.Intervals {
		switch iv.Title {
		case "Seminar":
			classIdx = i
		case "Same-start task":
			taskIdx = i
		}
	}
	if classIdx < 0 || taskIdx < 0 || classIdx > taskIdx {
		t.Fatalf("fixed block should precede same-start commitment (class=%d task=%d)", classIdx, taskIdx)
	}
	task := tl.Intervals[taskIdx]
	if !task.Start.Equal(at(t, 10, 0)) || !task.End.Equal(at(t, 10, 30)) {
		t.Fatalf("task tail = [%v, %v], want [10:00, 10:30]", task.Start, task.End)
	}

	again := env.timeline(t, monday)
	if !reflect.DeepEqual(tl, again) {
		t.Fatal("timeline is not deterministic across rebuilds")
	}
}

func TestCheckConflict(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Lecture", domain.KindClass, "09:00", 60, 0)

	// Overlapping the lecture body.
	conflict, err := env.Engine.CheckConflict(env.Ctx, "alice", at(t, 9, 30), 60, "")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if conflict == nil {
		t.Fatal("want conflict, got none")
	}
	if conflict.Blocking.Title != "Lecture" || !conflict.SuggestedStart.Equal(at(t, 10, 0)) {
		t.Fatalf("blocking %q suggested %v", conflict.Blocking.Title, conflict.SuggestedStart)
	}

	// Prep buffers block too.
	conflict, err = env.Engine.CheckConflict(env.Ctx, "alice", at(t, 8, 40), 10, "")
	if err != nil || conflict == nil {
		t.Fatalf("prep should block: conflict=%v err=%v", conflict, err)
	}

	// Back-to-back is fine: intervals are half-open.
	conflict, err = env.Engine.CheckConflict(env.Ctx, "alice", at(t, 10, 0), 60, "")
	if err != nil || conflict != nil {
		t.Fatalf("adjacent slot should be clear: conflict=%v err=%v", conflict, err)
	}
	conflict, err = env.Engine.CheckConflict(env.Ctx, "alice", at(t, 8, 0), 30, "")
	if err != nil || conflict != nil {
		t.Fatalf("slot ending at prep start should be clear: conflict=%v err=%v", conflict, err)
	}

	// A span crossing several blockers suggests the end of the last one.
	due := at(t, 11, 0)
	env.addCommitment(t, "Review", &due, 60, domain.PriorityMedium)
	conflict, err = env.Engine.CheckConflict(env.Ctx, "alice", at(t, 9, 30), 150, "")
	if err != nil || conflict == nil {
		t.Fatalf("want conflict: %v", err)
	}
	if conflict.Blocking.Title != "Review" || !conflict.SuggestedStart.Equal(at(t, 12, 0)) {
		t.Fatalf("want last blocker Review ending 12:00, got %q %v", conflict.Blocking.Title, conflict.SuggestedStart)
	}

	if _, err := env.Engine.CheckConflict(env.Ctx, "alice", at(t, 9, 0), 0, ""); err == nil {
		t.Fatal("zero duration should be rejected")
	}
}

func TestCheckConflictExcludesSelf(t *testing.T) {
	env := newTestEnv(t)
	due := at(t, 14, 0)
	c := env.addCommitment(t, "Deep work", &due, 120, domain.PriorityHigh)

	// Moving the same commitment 30 minutes later only overlaps itself.
	conflict, err := env.Engine.CheckConflict(env.Ctx, "alice", at(t, 14, 30), 120, c.ID)
	if err != nil || conflict != nil {
		t.Fatalf("self-overlap should be excluded: conflict=%v err=%v", conflict, err)
	}
	conflict, err = env.Engine.CheckConflict(env.Ctx, "alice", at(t, 14, 30), 120, "")
	if err != nil || conflict == nil {
		t.Fatalf("without exclusion the slot is blocked: %v", err)
	}
}

func TestCreateCommitmentConflictGate(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Lecture", domain.KindClass, "09:00", 60, 0)

	due := at(t, 9, 15)
	_, conflict, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "Clash", Due: &due, DurationMinutes: 30, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conflict == nil {
		t.Fatal("want conflict, got none")
	}
	list, err := env.Engine.Repo.ListCommitments(env.Ctx, repo.CommitmentFilters{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("conflicting commitment was persisted: %d rows", len(list))
	}

	// Force bypasses the gate.
	c, conflict, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "Clash", Due: &due, DurationMinutes: 30, ActorID: "tester", Force: true,
	})
	if err != nil || conflict != nil {
		t.Fatalf("forced create: conflict=%v err=%v", conflict, err)
	}
	if c.ID == "" {
		t.Fatal("forced create returned empty commitment")
	}
}

func TestUpdateCommitmentConflictGate(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Lecture", domain.KindClass, "09:00", 60, 0)
	due := at(t, 11, 0)
	c := env.addCommitment(t, "Errand", &due, 30, domain.PriorityMedium)

	bad := at(t, 9, 15)
	_, conflict, err := env.Engine.UpdateCommitment(env.Ctx, engine.CommitmentUpdateOptions{
		ID: c.ID, Due: &bad, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if conflict == nil {
		t.Fatal("want conflict on move into the lecture")
	}
	cur, err := env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cur.Due == nil || !cur.Due.Equal(due) {
		t.Fatalf("due changed despite conflict: %v", cur.Due)
	}

	// Clearing the due needs no conflict check.
	cleared, conflict, err := env.Engine.UpdateCommitment(env.Ctx, engine.CommitmentUpdateOptions{
		ID: c.ID, ClearDue: true, ActorID: "tester",
	})
	if err != nil || conflict != nil {
		t.Fatalf("clear due: conflict=%v err=%v", conflict, err)
	}
	if !cleared.Unplaced() {
		t.Fatal("due not cleared")
	}
}

func TestAutoScheduleGreedy(t *testing.T) {
	env := newTestEnv(t)
	env.addTemplate(t, "Lecture", domain.KindClass, "09:00", 60, 0)
	// Free: 08:00-08:30 (30m), 10:00-23:00 (13h).

	urgent := env.addCommitment(t, "Fix outage", nil, 60, domain.PriorityUrgent)
	high := env.addCommitment(t, "Review PR", nil, 30, domain.PriorityHigh)
	medium := env.addCommitment(t, "Long study", nil, 600, domain.PriorityMedium)
	low := env.addCommitment(t, "Laundry", nil, 120, domain.PriorityLow)
	huge := env.addCommitment(t, "Marathon", nil, 900, domain.PriorityLow)

	res, err := env.Engine.AutoSchedule(env.Ctx, "alice", monday, "tester")
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	wantPlaced := []string{urgent.ID, high.ID, medium.ID, low.ID}
	if !reflect.DeepEqual(res.Placed, wantPlaced) {
		t.Fatalf("placed order: got %v want %v", res.Placed, wantPlaced)
	}
	if !reflect.DeepEqual(res.Unplaced, []string{huge.ID}) {
		t.Fatalf("unplaced: got %v", res.Unplaced)
	}

	wantDue := map[string]time.Time{
		urgent.ID: at(t, 10, 0), // first slot big enough for 60m
		high.ID:   at(t, 8, 0),  // fits the morning gap
		medium.ID: at(t, 11, 0), // behind the urgent one
		low.ID:    at(t, 21, 0), // behind the study block
	}
	for id, want := range wantDue {
		c, err := env.Engine.Repo.GetCommitment(env.Ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if c.Due == nil || !c.Due.Equal(want) {
			t.Fatalf("commitment %q due %v, want %v", c.Title, c.Due, want)
		}
	}

	// The unplaced one keeps its null due.
	c, err := env.Engine.Repo.GetCommitment(env.Ctx, huge.ID)
	if err != nil || !c.Unplaced() {
		t.Fatalf("unplaced commitment gained a due: %v %v", c.Due, err)
	}

	checkCoverage(t, res.Timeline)

	// A second pass has nothing left to place except the leftover.
	res, err = env.Engine.AutoSchedule(env.Ctx, "alice", monday, "tester")
	if err != nil {
		t.Fatalf("second auto: %v", err)
	}
	if len(res.Placed) != 0 || !reflect.DeepEqual(res.Unplaced, []string{huge.ID}) {
		t.Fatalf("second pass: placed=%v unplaced=%v", res.Placed, res.Unplaced)
	}
}

func TestAutoScheduleSkipsShortGaps(t *testing.T) {
	env := newTestEnv(t)
	// One long block leaves exactly a 15-minute gap at the window open,
	// which is not over the threshold and must stay free.
	env.addTemplate(t, "Shift", domain.KindWork, "08:15", 885, 0)
	c := env.addCommitment(t, "Quick note", nil, 10, domain.PriorityUrgent)

	res, err := env.Engine.AutoSchedule(env.Ctx, "alice", monday, "tester")
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if len(res.Placed) != 0 || !reflect.DeepEqual(res.Unplaced, []string{c.ID}) {
		t.Fatalf("sliver gap was filled: placed=%v", res.Placed)
	}
}

func TestAutoScheduleDefaultClock(t *testing.T) {
	env := newTestEnv(t)
	c := env.addCommitment(t, "Errand", nil, 30, domain.PriorityMedium)

	// An engine without an injected clock falls back to the wall clock
	// everywhere, including the schedule pass.
	env.Engine.Now = nil
	res, err := env.Engine.AutoSchedule(env.Ctx, "alice", monday, "tester")
	if err != nil {
		t.Fatalf("auto without clock: %v", err)
	}
	if !reflect.DeepEqual(res.Placed, []string{c.ID}) {
		t.Fatalf("placed %v", res.Placed)
	}
}

func TestAutoScheduleCreationOrderTiebreak(t *testing.T) {
	env := newTestEnv(t)
	first := env.addCommitment(t, "First", nil, 60, domain.PriorityHigh)
	second := env.addCommitment(t, "Second", nil, 60, domain.PriorityHigh)

	res, err := env.Engine.AutoSchedule(env.Ctx, "alice", monday, "tester")
	if err != nil {
		t.Fatalf("auto: %v", err)
	}
	if !reflect.DeepEqual(res.Placed, []string{first.ID, second.ID}) {
		t.Fatalf("equal priorities should place in creation order, got %v", res.Placed)
	}
	a, _ := env.Engine.Repo.GetCommitment(env.Ctx, first.ID)
	b, _ := env.Engine.Repo.GetCommitment(env.Ctx, second.ID)
	if !a.Due.Equal(at(t, 8, 0)) || !b.Due.Equal(at(t, 9, 0)) {
		t.Fatalf("dues: %v / %v", a.Due, b.Due)
	}
}

func TestCompleteCommitmentIdempotent(t *testing.T) {
	env := newTestEnv(t)
	due := at(t, 14, 0)
	c := env.addCommitment(t, "One-off", &due, 30, domain.PriorityMedium)

	done, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Completed || done.CompletedAt == nil {
		t.Fatalf("not completed: %+v", done)
	}

	again, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "tester")
	if err != nil {
		t.Fatalf("recomplete: %v", err)
	}
	if !again.Completed {
		t.Fatal("second completion lost the flag")
	}

	// Non-recurring: no successor appears.
	list, err := env.Engine.Repo.ListCommitments(env.Ctx, repo.CommitmentFilters{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("want 1 commitment, got %d", len(list))
	}
}

func TestCompleteSpawnsSuccessor(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		recurrence string
		wantShift  time.Duration
	}{
		{domain.RecurrenceDaily, 24 * time.Hour},
		{domain.RecurrenceWeekly, 7 * 24 * time.Hour},
		{domain.RecurrenceMonthly, 30 * 24 * time.Hour},
	}
	for _, tc := range cases {
		due := at(t, 7, 0)
		c, conflict, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
			OwnerID: "alice", Title: "Recurring " + tc.recurrence, Due: &due,
			DurationMinutes: 20, Recurrence: tc.recurrence, ActorID: "tester", Force: true,
		})
		if err != nil || conflict != nil {
			t.Fatalf("%s: create: conflict=%v err=%v", tc.recurrence, conflict, err)
		}
		if _, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "tester"); err != nil {
			t.Fatalf("%s: complete: %v", tc.recurrence, err)
		}

		notDone := false
		open, err := env.Engine.Repo.ListCommitments(env.Ctx, repo.CommitmentFilters{OwnerID: "alice", Completed: &notDone})
		if err != nil {
			t.Fatalf("%s: list: %v", tc.recurrence, err)
		}
		var successor *domain.Commitment
		for i := range open {
			if open[i].Title == c.Title {
				successor = &open[i]
			}
		}
		if successor == nil {
			t.Fatalf("%s: no successor", tc.recurrence)
		}
		if successor.ID == c.ID {
			t.Fatalf("%s: successor reused the id", tc.recurrence)
		}
		want := due.Add(tc.wantShift)
		if successor.Due == nil || !successor.Due.Equal(want) {
			t.Fatalf("%s: successor due %v, want %v", tc.recurrence, successor.Due, want)
		}
		if successor.Completed || successor.Recurrence != tc.recurrence {
			t.Fatalf("%s: successor state: %+v", tc.recurrence, successor)
		}

		// Completing the predecessor again must not spawn another one.
		if _, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "tester"); err != nil {
			t.Fatalf("%s: recomplete: %v", tc.recurrence, err)
		}
		openAgain, _ := env.Engine.Repo.ListCommitments(env.Ctx, repo.CommitmentFilters{OwnerID: "alice", Completed: &notDone})
		if len(openAgain) != len(open) {
			t.Fatalf("%s: idempotent completion spawned another successor", tc.recurrence)
		}
	}
}

func TestUnplacedSuccessorStaysUnplaced(t *testing.T) {
	env := newTestEnv(t)
	c, conflict, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "Weekly review", DurationMinutes: 45,
		Recurrence: domain.RecurrenceWeekly, ActorID: "tester",
	})
	if err != nil || conflict != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	notDone := false
	open, err := env.Engine.Repo.ListCommitments(env.Ctx, repo.CommitmentFilters{OwnerID: "alice", Completed: &notDone})
	if err != nil || len(open) != 1 {
		t.Fatalf("want one open successor, got %d (%v)", len(open), err)
	}
	if !open[0].Unplaced() {
		t.Fatalf("successor of an unplaced commitment gained a due: %v", open[0].Due)
	}
}

func TestReminderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	due := at(t, 14, 0)
	c := env.addCommitment(t, "Call dentist", &due, 15, domain.PriorityMedium)

	// Default lead is 30 minutes.
	rems, err := env.Engine.Repo.ListDueReminders(env.Ctx, at(t, 13, 30))
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	if len(rems) != 1 || rems[0].CommitmentID != c.ID {
		t.Fatalf("want one reminder at 13:30, got %d", len(rems))
	}
	early, _ := env.Engine.Repo.ListDueReminders(env.Ctx, at(t, 13, 29))
	if len(early) != 0 {
		t.Fatal("reminder fired before its lead")
	}

	// Completion clears the pending reminder.
	if _, err := env.Engine.CompleteCommitment(env.Ctx, c.ID, "tester"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	rems, _ = env.Engine.Repo.ListDueReminders(env.Ctx, at(t, 23, 0))
	if len(rems) != 0 {
		t.Fatalf("pending reminder survived completion: %d", len(rems))
	}
}

func TestTemplateValidation(t *testing.T) {
	env := newTestEnv(t)
	bad := []engine.TemplateCreateOptions{
		{OwnerID: "alice", Title: "", Kind: domain.KindClass, StartTime: "09:00", DurationMinutes: 60, Days: []int{0}},
		{OwnerID: "alice", Title: "x", Kind: "nap", StartTime: "09:00", DurationMinutes: 60, Days: []int{0}},
		{OwnerID: "alice", Title: "x", Kind: domain.KindClass, StartTime: "25:00", DurationMinutes: 60, Days: []int{0}},
		{OwnerID: "alice", Title: "x", Kind: domain.KindClass, StartTime: "09:00", DurationMinutes: 0, Days: []int{0}},
		{OwnerID: "alice", Title: "x", Kind: domain.KindClass, StartTime: "09:00", DurationMinutes: 60, Days: nil},
		{OwnerID: "alice", Title: "x", Kind: domain.KindClass, StartTime: "09:00", DurationMinutes: 60, Days: []int{7}},
		{OwnerID: "alice", Title: "x", Kind: domain.KindClass, StartTime: "09:00", DurationMinutes: 60, Days: []int{0, 0}},
	}
	for i, opts := range bad {
		opts.ActorID = "tester"
		if _, err := env.Engine.CreateTemplate(env.Ctx, opts); err == nil {
			t.Fatalf("case %d: invalid template accepted", i)
		}
	}
}

func TestCommitmentValidation(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "", DurationMinutes: 30, ActorID: "tester",
	}); err == nil {
		t.Fatal("empty title accepted")
	}
	if _, _, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "x", DurationMinutes: -5, ActorID: "tester",
	}); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, _, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "x", DurationMinutes: 30, Priority: "whenever", ActorID: "tester",
	}); err == nil {
		t.Fatal("unknown priority accepted")
	}
	if _, _, err := env.Engine.CreateCommitment(env.Ctx, engine.CommitmentCreateOptions{
		OwnerID: "alice", Title: "x", DurationMinutes: 30, Recurrence: "fortnightly", ActorID: "tester",
	}); err == nil {
		t.Fatal("unknown recurrence accepted")
	}
}
