package reconciler

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/vektorhq/taskd/internal/model"
)

// declarativeEntry mirrors the declarative file's record shape: a
// sequence of job definitions with id, optional display name, trigger
// (tagged by type) and task_parameters (tagged by task_type).
type declarativeEntry struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description"`
	IsEnabled       *bool          `yaml:"is_enabled"`
	ReplaceExisting bool           `yaml:"replace_existing"`
	Trigger         declTrigger    `yaml:"trigger"`
	TaskParameters  declTask       `yaml:"task_parameters"`
	MaxInstances    int            `yaml:"max_instances"`
	Coalesce        bool           `yaml:"coalesce"`
	MisfireGrace    *int           `yaml:"misfire_grace_time"`
}

type declTrigger struct {
	Type       string `yaml:"type"`
	Cron       string `yaml:"cron_expression"`
	Timezone   string `yaml:"timezone"`
	Weeks      int    `yaml:"weeks"`
	Days       int    `yaml:"days"`
	Hours      int    `yaml:"hours"`
	Minutes    int    `yaml:"minutes"`
	Seconds    int    `yaml:"seconds"`
	RunDate    string `yaml:"run_date"`

	// Every is a human-readable duration ("90s", "2h30m") offered as a
	// shorthand for the weeks/days/hours/minutes/seconds fields above. If
	// set, it is parsed and takes precedence over those fields.
	Every string `yaml:"every"`
}

type declTask struct {
	TaskType        string            `yaml:"task_type"`
	Command         string            `yaml:"command"`
	Cwd             string            `yaml:"cwd"`
	Env             map[string]string `yaml:"env"`
	Module          string            `yaml:"module"`
	Function        string            `yaml:"function"`
	Args            []any             `yaml:"args"`
	Kwargs          map[string]any    `yaml:"kwargs"`
	To              []string          `yaml:"to"`
	Subject         string            `yaml:"subject"`
	TemplateName    string            `yaml:"template_name"`
	TemplateContext map[string]any    `yaml:"template_context"`
	Body            string            `yaml:"body"`
	BodyType        string            `yaml:"body_type"`
	ImagePaths      []string          `yaml:"image_paths"`
}

type declarativeFile struct {
	Jobs []declarativeEntry `yaml:"jobs"`
}

// LoadDeclarativeFile parses the declarative seed file into JobDefinition
// values ready for UpsertJob, alongside the replace_existing flag each
// entry carried (seeding is idempotent per id; an entry whose id already
// exists and did not request replace_existing is left untouched).
func LoadDeclarativeFile(path string) ([]model.JobDefinition, []bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read declarative file %q: %w", path, err)
	}

	var file declarativeFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("parse declarative file %q: %w", path, err)
	}

	var jobs []model.JobDefinition
	var replace []bool

	for _, entry := range file.Jobs {
		job, err := entryToJob(entry)
		if err != nil {
			// Invalid entries are logged and skipped; seeding continues.
			slog.Error("skipping invalid declarative entry", "id", entry.ID, "error", err)
			continue
		}
		jobs = append(jobs, job)
		replace = append(replace, entry.ReplaceExisting)
	}

	return jobs, replace, nil
}

func entryToJob(entry declarativeEntry) (model.JobDefinition, error) {
	if entry.ID == "" {
		return model.JobDefinition{}, fmt.Errorf("entry missing id")
	}

	trig, err := entryToTrigger(entry.Trigger)
	if err != nil {
		return model.JobDefinition{}, fmt.Errorf("entry %q: %w", entry.ID, err)
	}

	jobType := model.JobType(entry.TaskParameters.TaskType)
	switch jobType {
	case model.JobShell, model.JobPython, model.JobEmail:
	default:
		return model.JobDefinition{}, fmt.Errorf("entry %q: unknown task_type %q", entry.ID, entry.TaskParameters.TaskType)
	}

	isEnabled := true
	if entry.IsEnabled != nil {
		isEnabled = *entry.IsEnabled
	}

	misfire := 3600
	if entry.MisfireGrace != nil {
		misfire = *entry.MisfireGrace
	}

	maxInstances := entry.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 1
	}

	job := model.JobDefinition{
		ID:               entry.ID,
		Description:      entry.Description,
		IsEnabled:        isEnabled,
		JobType:          jobType,
		Trigger:          trig,
		MaxInstances:     maxInstances,
		Coalesce:         entry.Coalesce,
		MisfireGraceTime: misfire,
	}

	switch jobType {
	case model.JobShell:
		job.Func = entry.TaskParameters.Command
		job.Cwd = entry.TaskParameters.Cwd
		job.Env = entry.TaskParameters.Env
	case model.JobPython:
		job.Func = entry.TaskParameters.Module + ":" + entry.TaskParameters.Function
		job.Args = entry.TaskParameters.Args
		job.Kwargs = entry.TaskParameters.Kwargs
	case model.JobEmail:
		kwargs := map[string]any{
			"to":               entry.TaskParameters.To,
			"subject":          entry.TaskParameters.Subject,
			"template_name":    entry.TaskParameters.TemplateName,
			"template_context": entry.TaskParameters.TemplateContext,
			"body":             entry.TaskParameters.Body,
			"body_type":        entry.TaskParameters.BodyType,
			"image_paths":      entry.TaskParameters.ImagePaths,
		}
		job.Kwargs = kwargs
	}

	if err := model.ValidateJob(job); err != nil {
		return model.JobDefinition{}, fmt.Errorf("entry %q: %w", entry.ID, err)
	}

	return job, nil
}

func entryToTrigger(t declTrigger) (model.Trigger, error) {
	switch model.TriggerType(t.Type) {
	case model.TriggerCron:
		return model.Trigger{
			Type:           model.TriggerCron,
			CronExpression: t.Cron,
			Timezone:       t.Timezone,
		}, nil
	case model.TriggerInterval:
		trig := model.Trigger{
			Type:        model.TriggerInterval,
			Weeks:       t.Weeks,
			Days:        t.Days,
			Hours:       t.Hours,
			Minutes:     t.Minutes,
			Seconds:     t.Seconds,
			StartAnchor: time.Now().UTC(),
		}

		if t.Every != "" {
			d, err := str2duration.ParseDuration(t.Every)
			if err != nil {
				return model.Trigger{}, fmt.Errorf("parse every %q: %w", t.Every, err)
			}
			trig.Weeks, trig.Days, trig.Hours, trig.Minutes = 0, 0, 0, 0
			trig.Seconds = int(d.Seconds())
		}

		return trig, nil
	case model.TriggerDate:
		runAt, err := time.Parse(time.RFC3339, t.RunDate)
		if err != nil {
			return model.Trigger{}, fmt.Errorf("parse run_date %q: %w", t.RunDate, err)
		}
		return model.Trigger{Type: model.TriggerDate, RunDate: runAt}, nil
	default:
		return model.Trigger{}, fmt.Errorf("unknown trigger type %q", t.Type)
	}
}
