package reports

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrBadRecurrence = errors.New("invalid recurrence")

var recurrenceParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NextRun returns the first fire time of expr strictly after after.
// expr is a five-field cron expression or a descriptor such as "@daily"
// or "@every 6h".
func NextRun(expr string, after time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrBadRecurrence)
	}
	sched, err := recurrenceParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrBadRecurrence, expr, err)
	}
	next := sched.Next(after.UTC())
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", ErrBadRecurrence, expr)
	}
	return next.UTC(), nil
}

// Backoff is base doubled per consecutive failure, capped at ceiling.
func Backoff(failures int, base, ceiling time.Duration) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
