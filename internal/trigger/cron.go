package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

// cronTerm is one comma-separated element of a cron field expression: a
// bare "*", a "*/step", a single "N", or an inclusive "N-M" range.
type cronTerm struct {
	kind       string // "wildcard", "step", "range", "single"
	start, end int
	step       int
}

// cronField is a parsed field matcher. An unset (empty-string) field is a
// wildcard, matching every value — the finest-granularity default §4.2
// calls for on every field except second.
type cronField struct {
	wildcard bool
	terms    []cronTerm
}

var cronTermPattern = regexp.MustCompile(`^(\*|\*/\d+|\d+|\d+-\d+)$`)

func parseCronField(expr string) (cronField, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || expr == "*" {
		return cronField{wildcard: true}, nil
	}

	var terms []cronTerm
	for _, raw := range strings.Split(expr, ",") {
		term := strings.TrimSpace(raw)
		if !cronTermPattern.MatchString(term) {
			return cronField{}, fmt.Errorf("trigger: invalid cron field term %q", term)
		}

		switch {
		case term == "*":
			terms = append(terms, cronTerm{kind: "wildcard"})
		case strings.HasPrefix(term, "*/"):
			step, err := strconv.Atoi(term[2:])
			if err != nil || step <= 0 {
				return cronField{}, fmt.Errorf("trigger: invalid step term %q", term)
			}
			terms = append(terms, cronTerm{kind: "step", step: step})
		case strings.Contains(term, "-"):
			parts := strings.SplitN(term, "-", 2)
			start, errA := strconv.Atoi(parts[0])
			end, errB := strconv.Atoi(parts[1])
			if errA != nil || errB != nil || start > end {
				return cronField{}, fmt.Errorf("trigger: invalid range term %q", term)
			}
			terms = append(terms, cronTerm{kind: "range", start: start, end: end})
		default:
			n, err := strconv.Atoi(term)
			if err != nil {
				return cronField{}, fmt.Errorf("trigger: invalid value term %q", term)
			}
			terms = append(terms, cronTerm{kind: "single", start: n})
		}
	}

	return cronField{terms: terms}, nil
}

// parseCronFieldDefault0 is parseCronField with an empty expression
// defaulting to the literal value 0 instead of a wildcard — used only by
// the second field, per §4.2's "defaults to 0 (fire-on-the-minute)".
func parseCronFieldDefault0(expr string) (cronField, error) {
	if strings.TrimSpace(expr) == "" {
		return cronField{terms: []cronTerm{{kind: "single", start: 0}}}, nil
	}
	return parseCronField(expr)
}

// matches reports whether v satisfies the field, anchoring "*/step" terms
// at stepBase (0 for every field in this implementation, since none of
// §4.2's fields specify a non-zero step anchor).
func (f cronField) matches(v int) bool {
	if f.wildcard {
		return true
	}
	for _, t := range f.terms {
		switch t.kind {
		case "wildcard":
			return true
		case "step":
			if v%t.step == 0 {
				return true
			}
		case "range":
			if v >= t.start && v <= t.end {
				return true
			}
		case "single":
			if v == t.start {
				return true
			}
		}
	}
	return false
}

// CronTrigger fires on a recurring schedule built from eight independent
// per-field matchers (§3, §4.2), rather than delegating to a whole-string
// cron parser: the library available in the reference stack
// (robfig/cron) implements the classic POSIX rule where restricting both
// day-of-month and day-of-week fires on either matching (OR), but §4.2
// requires the opposite — an intersection (AND) — so next_fire_time is
// computed here field-by-field with that intersection applied directly.
type CronTrigger struct {
	year, month, day, week, dayOfWeek, hour, minute, second cronField
	loc                                                      *time.Location
}

// maxYearsAhead bounds the forward search so a field combination that can
// never be satisfied (e.g. day=31 intersected with month=February) gives
// up and reports exhaustion instead of looping forever — the "possibly
// empty → next_fire_time = ∅" boundary behavior §8 calls for.
const maxYearsAhead = 8

// NewCron builds a CronTrigger from cfg. If cfg.CronExpression is set it
// is parsed as a whitespace-separated shorthand (5 fields: minute hour
// day month day_of_week; 6 fields: leading second) and takes precedence
// over the discrete fields; otherwise the discrete Year/Month/.../Second
// fields on cfg are used directly.
func NewCron(cfg model.Trigger) (*CronTrigger, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("trigger: load timezone %q: %w", cfg.Timezone, err)
		}
	}

	fields := cfg
	if strings.TrimSpace(cfg.CronExpression) != "" {
		parsed, err := fieldsFromExpression(cfg.CronExpression)
		if err != nil {
			return nil, err
		}
		fields = parsed
	}

	year, err := parseCronField(fields.Year)
	if err != nil {
		return nil, err
	}
	month, err := parseCronField(fields.Month)
	if err != nil {
		return nil, err
	}
	day, err := parseCronField(fields.Day)
	if err != nil {
		return nil, err
	}
	week, err := parseCronField(fields.Week)
	if err != nil {
		return nil, err
	}
	dayOfWeek, err := parseCronField(fields.DayOfWeek)
	if err != nil {
		return nil, err
	}
	hour, err := parseCronField(fields.Hour)
	if err != nil {
		return nil, err
	}
	minute, err := parseCronField(fields.Minute)
	if err != nil {
		return nil, err
	}
	second, err := parseCronFieldDefault0(fields.Second)
	if err != nil {
		return nil, err
	}

	return &CronTrigger{
		year: year, month: month, day: day, week: week,
		dayOfWeek: dayOfWeek, hour: hour, minute: minute, second: second,
		loc: loc,
	}, nil
}

// fieldsFromExpression splits a 5- or 6-field whitespace-separated
// shorthand into the discrete fields NewCron understands. 5 fields are
// "minute hour day month day_of_week" (the Workflow.Schedule format); 6
// fields prepend "second".
func fieldsFromExpression(expr string) (model.Trigger, error) {
	parts := strings.Fields(expr)

	var minute, hour, day, month, dow, second string
	switch len(parts) {
	case 5:
		minute, hour, day, month, dow = parts[0], parts[1], parts[2], parts[3], parts[4]
	case 6:
		second, minute, hour, day, month, dow = parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	default:
		return model.Trigger{}, fmt.Errorf("trigger: cron expression %q must have 5 or 6 fields, got %d", expr, len(parts))
	}

	return model.Trigger{
		Minute: minute, Hour: hour, Day: day, Month: month, DayOfWeek: dow, Second: second,
	}, nil
}

// dayMatches intersects the day-of-month, day-of-week and week-of-year
// constraints (§4.2: "day and day_of_week, when both specified, are
// intersected (both must match)"). Because an unset field is a wildcard
// that always matches, ANDing all three naturally reduces to whichever
// subset was actually specified.
func (t *CronTrigger) dayMatches(c time.Time) bool {
	if !t.day.matches(c.Day()) {
		return false
	}
	if !t.dayOfWeek.matches(int(c.Weekday())) {
		return false
	}
	_, week := c.ISOWeek()
	return t.week.matches(week)
}

// Next returns the smallest instant strictly greater than after that
// satisfies every field, evaluated year → month → day/day_of_week/week →
// hour → minute → second — the second field is checked last, per §4.2.
func (t *CronTrigger) Next(after time.Time) (time.Time, bool) {
	candidate := after.In(t.loc).Add(time.Second).Truncate(time.Second)
	yearLimit := candidate.Year() + maxYearsAhead

	for {
		if candidate.Year() > yearLimit {
			return time.Time{}, false
		}

		if !t.year.matches(candidate.Year()) {
			candidate = time.Date(candidate.Year()+1, time.January, 1, 0, 0, 0, 0, t.loc)
			continue
		}

		if !t.month.matches(int(candidate.Month())) {
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, t.loc)
			continue
		}

		if !t.dayMatches(candidate) {
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, t.loc)
			continue
		}

		if !t.hour.matches(candidate.Hour()) {
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour()+1, 0, 0, 0, t.loc)
			continue
		}

		if !t.minute.matches(candidate.Minute()) {
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour(), candidate.Minute()+1, 0, 0, t.loc)
			continue
		}

		if !t.second.matches(candidate.Second()) {
			candidate = candidate.Add(time.Second)
			continue
		}

		return candidate, true
	}
}
