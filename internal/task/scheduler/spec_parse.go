package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind is the firing rule of a schedule.
type Kind int

const (
	KindInterval Kind = iota
	KindHourly
	KindDaily
	KindWeekly
)

func (k Kind) String() string {
	switch k {
	case KindHourly:
		return "hourly"
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	default:
		return "interval"
	}
}

// Schedule is a parsed schedule string.
//
// Supported forms:
//   - "every 30m", "every 2h30m", "every 01:30" (interval, at least 1m)
//   - "hourly"
//   - "daily 09:00"
//   - "weekly sun 20:00"
type Schedule struct {
	Kind    Kind
	Every   time.Duration
	Hour    int
	Minute  int
	Weekday time.Weekday
}

var (
	reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reHHMM  = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)
)

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseSchedule parses a schedule string. Keywords are case-insensitive.
func ParseSchedule(raw string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(raw))
	if len(fields) == 0 {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	switch fields[0] {
	case "hourly":
		if len(fields) != 1 {
			return Schedule{}, fmt.Errorf("invalid schedule %q (hourly takes no arguments)", raw)
		}
		return Schedule{Kind: KindHourly, Every: time.Hour}, nil

	case "every", "interval":
		if len(fields) != 2 {
			return Schedule{}, fmt.Errorf("invalid schedule %q (want 'every 30m')", raw)
		}
		d, err := parseInterval(fields[1])
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: KindInterval, Every: d}, nil

	case "daily":
		if len(fields) != 2 {
			return Schedule{}, fmt.Errorf("invalid schedule %q (want 'daily 09:00')", raw)
		}
		h, m, err := parseClock(fields[1])
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: KindDaily, Hour: h, Minute: m}, nil

	case "weekly":
		if len(fields) != 3 {
			return Schedule{}, fmt.Errorf("invalid schedule %q (want 'weekly sun 20:00')", raw)
		}
		wd, ok := weekdayNames[fields[1]]
		if !ok {
			return Schedule{}, fmt.Errorf("invalid weekday %q", fields[1])
		}
		h, m, err := parseClock(fields[2])
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Kind: KindWeekly, Weekday: wd, Hour: h, Minute: m}, nil
	}
	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use 'every 30m', 'hourly', 'daily 09:00' or 'weekly sun 20:00')",
		raw,
	)
}

// String renders the schedule in the form ParseSchedule accepts.
func (s Schedule) String() string {
	switch s.Kind {
	case KindHourly:
		return "hourly"
	case KindDaily:
		return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
	case KindWeekly:
		return fmt.Sprintf("weekly %s %02d:%02d", strings.ToLower(s.Weekday.String()[:3]), s.Hour, s.Minute)
	default:
		return "every " + s.Every.String()
	}
}

// Describe is the human form used in status output.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindHourly:
		return "Hourly"
	case KindDaily:
		return fmt.Sprintf("Daily at %02d:%02d", s.Hour, s.Minute)
	case KindWeekly:
		return fmt.Sprintf("Every %s at %02d:%02d", s.Weekday.String()[:3], s.Hour, s.Minute)
	default:
		return fmt.Sprintf("Every %s", s.Every)
	}
}

// cronSpec is the standard 5-field expression for calendar kinds.
func (s Schedule) cronSpec() string {
	switch s.Kind {
	case KindDaily:
		return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
	case KindWeekly:
		return fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, int(s.Weekday))
	}
	return ""
}

func parseClock(v string) (int, int, error) {
	m := reClock.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if h > 23 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	return h, mm, nil
}

// parseInterval accepts a Go duration ("55m") or HH:MM as a length ("02:30").
func parseInterval(v string) (time.Duration, error) {
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
		}
	}
	if d < time.Minute {
		return 0, fmt.Errorf("interval must be >= 1m, got %s", d)
	}
	return d, nil
}
