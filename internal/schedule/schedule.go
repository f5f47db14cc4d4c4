// Package schedule turns human schedule strings into robfig/cron specs.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 */10 * * * *" (optional seconds), "@hourly", "@every 5m"
//   - Interval duration: "5m", "1h30m"
//   - Interval HH:MM: "00:05" (5 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes "cron:" and "every:" force the interpretation.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts 5- or 6-field cron expressions and descriptors.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// MinInterval keeps a misconfigured schedule from hammering the SIEM API.
const MinInterval = 10 * time.Second

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Spec is a validated schedule.
type Spec struct {
	// Expr is always a valid cron expression for Parser.
	Expr     string
	Schedule cron.Schedule
	// Every is set for interval schedules.
	Every time.Duration
}

// Parse normalizes raw into a cron expression and validates it.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "@every"):
		return parseInterval(strings.TrimSpace(s[len("@every"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	default:
		return parseInterval(s)
	}
}

func parseCron(expr string) (Spec, error) {
	if expr == "" {
		return Spec{}, fmt.Errorf("cron expression required")
	}
	sched, err := Parser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return Spec{Expr: expr, Schedule: sched}, nil
}

func parseInterval(v string) (Spec, error) {
	d, err := intervalDuration(v)
	if err != nil {
		return Spec{}, err
	}
	if d < MinInterval {
		return Spec{}, fmt.Errorf("interval %s is shorter than %s", d, MinInterval)
	}
	expr := "@every " + d.String()
	sched, err := Parser.Parse(expr)
	if err != nil {
		return Spec{}, err
	}
	return Spec{Expr: expr, Schedule: sched, Every: d}, nil
}

func intervalDuration(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:05', or duration like '5m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
