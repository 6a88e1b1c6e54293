package model

import (
	"fmt"
	"regexp"
	"strings"
)

// idPattern is the URL-safe charset a JobDefinition id must match (§3).
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateJob checks the invariants §3 declares for a JobDefinition:
// job_type is one of the three known variants, the trigger's Type is known
// and its own parameters are sane, the id is URL-safe, max_instances is at
// least 1, and — for shell jobs — cwd never escapes the sandbox via ".."
// or an absolute path. It is called both at declarative-seed time and at
// API create/update time so an invalid definition never reaches the
// reconciler or the dispatcher.
func ValidateJob(job JobDefinition) error {
	if job.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !idPattern.MatchString(job.ID) {
		return fmt.Errorf("id %q must match %s", job.ID, idPattern.String())
	}

	switch job.JobType {
	case JobShell, JobPython, JobEmail:
	default:
		return fmt.Errorf("unknown job_type %q", job.JobType)
	}

	if err := ValidateTrigger(job.Trigger); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}

	if job.MaxInstances < 1 {
		return fmt.Errorf("max_instances must be >= 1, got %d", job.MaxInstances)
	}

	if job.JobType == JobShell {
		if err := ValidateSandboxPath(job.Cwd); err != nil {
			return fmt.Errorf("cwd: %w", err)
		}
	}

	return nil
}

// ValidateTrigger checks that cfg.Type names a known variant and that the
// variant's own parameters are sane (nonzero interval period; a
// cron_expression, when given, of 5 or 6 fields; a non-zero run_at for a
// date trigger).
func ValidateTrigger(cfg Trigger) error {
	switch cfg.Type {
	case TriggerCron:
		// Every per-field cron expression defaults to a wildcard (second
		// defaults to 0), so a cron trigger with every field empty is valid
		// — it simply fires every minute on the minute. Only the shorthand
		// form has a structural shape worth checking here, since the
		// per-field matchers themselves are validated when the trigger
		// package builds the matcher.
		if expr := strings.TrimSpace(cfg.CronExpression); expr != "" {
			n := len(strings.Fields(expr))
			if n != 5 && n != 6 {
				return fmt.Errorf("cron_expression %q must have 5 or 6 fields, got %d", expr, n)
			}
		}
	case TriggerInterval:
		period := cfg.Weeks*7*24*3600 + cfg.Days*24*3600 + cfg.Hours*3600 + cfg.Minutes*60 + cfg.Seconds
		if period <= 0 {
			return fmt.Errorf("interval trigger period must be > 0")
		}
	case TriggerDate:
		if cfg.RunDate.IsZero() {
			return fmt.Errorf("date trigger requires a run_date")
		}
	default:
		return fmt.Errorf("unknown trigger type %q", cfg.Type)
	}
	return nil
}

// ValidateSandboxPath rejects the cwd values §4.4/§7 forbid outright: an
// empty string is fine (it means "the sandbox root itself"), but an
// absolute path or one containing ".." is a filesystem-violation error
// that must never reach the dispatcher.
func ValidateSandboxPath(relative string) error {
	if relative == "" {
		return nil
	}
	if strings.Contains(relative, "..") {
		return fmt.Errorf("path %q must not contain '..'", relative)
	}
	if strings.HasPrefix(relative, "/") {
		return fmt.Errorf("path %q must be relative, not absolute", relative)
	}
	return nil
}
