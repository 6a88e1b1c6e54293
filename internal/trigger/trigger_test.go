package trigger

import (
	"testing"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

func TestNewDispatchesByType(t *testing.T) {
	cases := []struct {
		name string
		cfg  model.Trigger
	}{
		{"cron", model.Trigger{Type: model.TriggerCron, CronExpression: "*/5 * * * *"}},
		{"interval", model.Trigger{Type: model.TriggerInterval, Seconds: 30, StartAnchor: time.Now()}},
		{"date", model.Trigger{Type: model.TriggerDate, RunDate: time.Now().Add(time.Hour)}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			trig, err := New(c.cfg)
			if err != nil {
				t.Fatalf("New(%v): %v", c.cfg, err)
			}
			if trig == nil {
				t.Fatal("expected non-nil trigger")
			}
		})
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(model.Trigger{Type: "bogus"})
	if err == nil {
		t.Fatal("expected error for unknown trigger type")
	}
}

func TestIntervalPhaseLocked(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trig := NewInterval(anchor, 0, 0, 0, 0, 2)

	next, ok := trig.Next(anchor)
	if !ok {
		t.Fatal("expected a fire time")
	}
	want := anchor.Add(2 * time.Second)
	if !next.Equal(want) {
		t.Fatalf("Next(anchor) = %v, want %v", next, want)
	}

	// A late call several periods past the anchor still lands on the grid.
	late := anchor.Add(11 * time.Second)
	next, ok = trig.Next(late)
	if !ok {
		t.Fatal("expected a fire time")
	}
	want = anchor.Add(12 * time.Second)
	if !next.Equal(want) {
		t.Fatalf("Next(late) = %v, want %v", next, want)
	}
}

func TestIntervalZeroPeriodClampsToOneSecond(t *testing.T) {
	anchor := time.Now()
	trig := NewInterval(anchor, 0, 0, 0, 0, 0)

	next, ok := trig.Next(anchor)
	if !ok {
		t.Fatal("expected a fire time")
	}
	if next.Sub(anchor) != time.Second {
		t.Fatalf("expected clamped 1s period, got %v", next.Sub(anchor))
	}
}

func TestDateFiresOnceThenExhausts(t *testing.T) {
	runAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	trig := NewDate(runAt)

	next, ok := trig.Next(runAt.Add(-time.Hour))
	if !ok || !next.Equal(runAt) {
		t.Fatalf("first Next() = (%v, %v), want (%v, true)", next, ok, runAt)
	}

	if _, ok := trig.Next(runAt); ok {
		t.Fatal("expected date trigger to be exhausted after first fire")
	}
}

func TestCronIntersectsDayAndDayOfWeek(t *testing.T) {
	// "0 0 1 * 1" fires only when both day-of-month=1 and day-of-week=Monday
	// agree — an AND, not the OR a POSIX cron parser would apply. After
	// 2026-01-01 (a Thursday) the dates with day=1 are 2026-02-01 (Sun),
	// 03-01 (Sun), 04-01 (Wed), 05-01 (Fri), 06-01 (Mon) — the first one
	// that is also a Monday is 2026-06-01.
	trig, err := NewCron(model.Trigger{Type: model.TriggerCron, CronExpression: "0 0 1 * 1", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next, ok := trig.Next(after)
	if !ok {
		t.Fatal("expected a fire time")
	}
	want := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected intersection to land on %v, got %v", want, next)
	}
	if next.Day() != 1 || next.Weekday() != time.Monday {
		t.Fatalf("expected an intersection of day=1 and Monday, got %v (weekday %v)", next, next.Weekday())
	}
}

func TestCronAllFieldsEmptyDefaultsToEveryMinute(t *testing.T) {
	// §4.2: an unset field is the finest-granularity wildcard except
	// second, which defaults to 0 — so a bare cron trigger fires once a
	// minute, on the minute.
	trig, err := NewCron(model.Trigger{Type: model.TriggerCron})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	after := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	next, ok := trig.Next(after)
	if !ok {
		t.Fatal("expected a fire time")
	}
	want := time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next(after) = %v, want %v", next, want)
	}
}

func TestCronDiscreteFieldsWithoutShorthand(t *testing.T) {
	// Per-field construction with no CronExpression shorthand: fire at
	// the top of every hour.
	trig, err := NewCron(model.Trigger{Type: model.TriggerCron, Minute: "0", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	after := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	next, ok := trig.Next(after)
	if !ok {
		t.Fatal("expected a fire time")
	}
	want := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("Next(after) = %v, want %v", next, want)
	}
}

func TestCronRejectsUnknownTimezone(t *testing.T) {
	_, err := NewCron(model.Trigger{Type: model.TriggerCron, CronExpression: "* * * * *", Timezone: "Not/A_Zone"})
	if err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestCronSecondOptionalDefaultsToZero(t *testing.T) {
	// Five-field form omits seconds; every fire should land on :00.
	trig, err := NewCron(model.Trigger{Type: model.TriggerCron, CronExpression: "* * * * *", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}

	after := time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC)
	next, ok := trig.Next(after)
	if !ok {
		t.Fatal("expected a fire time")
	}
	if next.Second() != 0 {
		t.Fatalf("expected fire on second 0, got %v", next)
	}
}

func TestCronRejectsMalformedExpressionFieldCount(t *testing.T) {
	_, err := NewCron(model.Trigger{Type: model.TriggerCron, CronExpression: "* * *"})
	if err == nil {
		t.Fatal("expected error for malformed field count")
	}
}
