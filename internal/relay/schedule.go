package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule decides when the next cycle starts, given when the last one ended.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every is a fixed delay between the end of one cycle and the start of the next.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e Every) String() string                 { return time.Duration(e).String() }

type cronSchedule struct {
	expr string
	s    cron.Schedule
}

func (c cronSchedule) Next(after time.Time) time.Time { return c.s.Next(after) }
func (c cronSchedule) String() string                 { return c.expr }

// ParseSchedule accepts a Go duration ("60s") or a standard cron expression
// ("*/2 * * * *", "@hourly", "@every 90s"). Empty yields def.
func ParseSchedule(raw string, def time.Duration) (Schedule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Every(def), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0, got %s", raw)
		}
		return Every(d), nil
	}
	s, err := cron.ParseStandard(raw)
	if err != nil {
		return nil, fmt.Errorf("interval %q is neither a duration nor a cron expression: %w", raw, err)
	}
	return cronSchedule{expr: raw, s: s}, nil
}
