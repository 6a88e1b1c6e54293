package reconciler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vektorhq/taskd/internal/model"
)

func writeDeclFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write declarative file: %v", err)
	}
	return path
}

func TestLoadDeclarativeFileParsesShellCronEntry(t *testing.T) {
	path := writeDeclFile(t, `
jobs:
  - id: nightly_cleanup
    description: clears tmp
    trigger:
      type: cron
      cron_expression: "0 2 * * *"
    task_parameters:
      task_type: shell
      command: "rm -rf /tmp/scratch/*"
      cwd: "."
`)

	jobs, replace, err := LoadDeclarativeFile(path)
	if err != nil {
		t.Fatalf("LoadDeclarativeFile: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if replace[0] {
		t.Fatal("replace_existing should default to false")
	}

	job := jobs[0]
	if job.ID != "nightly_cleanup" || job.JobType != model.JobShell {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.Trigger.Type != model.TriggerCron || job.Trigger.CronExpression != "0 2 * * *" {
		t.Fatalf("unexpected trigger: %+v", job.Trigger)
	}
	if job.MaxInstances != 1 {
		t.Fatalf("max_instances default = %d, want 1", job.MaxInstances)
	}
	if job.MisfireGraceTime != 3600 {
		t.Fatalf("misfire_grace_time default = %d, want 3600", job.MisfireGraceTime)
	}
	if !job.IsEnabled {
		t.Fatal("is_enabled should default to true")
	}
}

func TestLoadDeclarativeFileEveryShorthandOverridesDiscreteFields(t *testing.T) {
	path := writeDeclFile(t, `
jobs:
  - id: heartbeat
    trigger:
      type: interval
      hours: 5
      every: "90s"
    task_parameters:
      task_type: shell
      command: "echo up"
`)

	jobs, _, err := LoadDeclarativeFile(path)
	if err != nil {
		t.Fatalf("LoadDeclarativeFile: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}

	trig := jobs[0].Trigger
	if trig.Hours != 0 {
		t.Fatalf("every should zero out hours, got %d", trig.Hours)
	}
	if trig.Seconds != 90 {
		t.Fatalf("seconds = %d, want 90", trig.Seconds)
	}
}

func TestLoadDeclarativeFileSkipsInvalidEntriesAndKeepsValid(t *testing.T) {
	path := writeDeclFile(t, `
jobs:
  - id: ""
    trigger:
      type: cron
      cron_expression: "* * * * *"
    task_parameters:
      task_type: shell
      command: "echo no id"
  - id: bad_task_type
    trigger:
      type: cron
      cron_expression: "* * * * *"
    task_parameters:
      task_type: carrier_pigeon
  - id: good_one
    trigger:
      type: date
      run_date: "2026-01-01T00:00:00Z"
    task_parameters:
      task_type: shell
      command: "echo ok"
`)

	jobs, _, err := LoadDeclarativeFile(path)
	if err != nil {
		t.Fatalf("LoadDeclarativeFile: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("got %d valid jobs, want 1 (invalid entries should be skipped): %+v", len(jobs), jobs)
	}
	if jobs[0].ID != "good_one" {
		t.Fatalf("got job id %q, want %q", jobs[0].ID, "good_one")
	}
}

func TestLoadDeclarativeFileMissingFileReturnsError(t *testing.T) {
	if _, _, err := LoadDeclarativeFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a nonexistent file")
	}
}

func TestLoadDeclarativeFilePythonAndEmailTaskParameters(t *testing.T) {
	path := writeDeclFile(t, `
jobs:
  - id: py_job
    trigger:
      type: interval
      minutes: 30
    task_parameters:
      task_type: python
      module: tasks
      function: noop
      args: [1, 2]
      kwargs:
        foo: bar
  - id: email_job
    trigger:
      type: cron
      cron_expression: "0 9 * * MON"
    task_parameters:
      task_type: email
      to: ["a@example.com"]
      subject: "weekly report"
      body: "hi"
      body_type: plain
`)

	jobs, _, err := LoadDeclarativeFile(path)
	if err != nil {
		t.Fatalf("LoadDeclarativeFile: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	py := jobs[0]
	if py.Func != "tasks:noop" {
		t.Fatalf("python func = %q, want %q", py.Func, "tasks:noop")
	}

	email := jobs[1]
	if email.JobType != model.JobEmail {
		t.Fatalf("job type = %v, want email", email.JobType)
	}
	to, _ := email.Kwargs["to"].([]string)
	if len(to) != 1 || to[0] != "a@example.com" {
		t.Fatalf("email to = %v, want [a@example.com]", email.Kwargs["to"])
	}
}
