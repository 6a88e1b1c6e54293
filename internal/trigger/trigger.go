// Package trigger computes the next fire time for the three trigger
// variants a JobDefinition can carry: cron, interval and date.
package trigger

import (
	"fmt"
	"time"

	"github.com/vektorhq/taskd/internal/model"
)

// Trigger computes successive fire times for a schedule.
type Trigger interface {
	// Next returns the first fire time strictly after "after", and true.
	// Returns the zero time and false once the trigger can never fire
	// again (a date trigger once its run date is not after "after").
	Next(after time.Time) (time.Time, bool)
}

// New builds a Trigger from the tagged-union model.Trigger configuration.
func New(cfg model.Trigger) (Trigger, error) {
	switch cfg.Type {
	case model.TriggerCron:
		return NewCron(cfg)
	case model.TriggerInterval:
		return NewInterval(cfg.StartAnchor, cfg.Weeks, cfg.Days, cfg.Hours, cfg.Minutes, cfg.Seconds), nil
	case model.TriggerDate:
		return NewDate(cfg.RunDate), nil
	default:
		return nil, fmt.Errorf("trigger: unknown type %q", cfg.Type)
	}
}
