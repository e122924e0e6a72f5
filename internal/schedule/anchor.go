package schedule

import (
	"fmt"
	"time"

	"stealthdca/internal/config"
	"stealthdca/internal/models"
)

// Anchor is the time of day (and weekday / month day) non-hourly schedules fire at.
type Anchor struct {
	Hour     int
	Minute   int
	Weekday  time.Weekday
	MonthDay int
	Location *time.Location
}

// DefaultAnchor fires at 09:00 UTC, Mondays for weekly and the 1st for monthly.
var DefaultAnchor = Anchor{Hour: 9, Weekday: time.Monday, MonthDay: 1, Location: time.UTC}

func AnchorFromConfig(cfg config.ScheduleConfig) (Anchor, error) {
	a := Anchor{
		Hour:     cfg.AnchorHour,
		Minute:   cfg.AnchorMinute,
		Weekday:  time.Weekday(cfg.Weekday),
		MonthDay: cfg.MonthDay,
		Location: time.UTC,
	}
	if tz := cfg.Timezone; tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Anchor{}, fmt.Errorf("schedule timezone: %w", err)
		}
		a.Location = loc
	}
	if err := a.validate(); err != nil {
		return Anchor{}, err
	}
	return a, nil
}

func (a Anchor) validate() error {
	switch {
	case a.Hour < 0 || a.Hour > 23:
		return fmt.Errorf("anchor hour %d out of range", a.Hour)
	case a.Minute < 0 || a.Minute > 59:
		return fmt.Errorf("anchor minute %d out of range", a.Minute)
	case a.Weekday < time.Sunday || a.Weekday > time.Saturday:
		return fmt.Errorf("anchor weekday %d out of range", a.Weekday)
	case a.MonthDay < 1 || a.MonthDay > 28:
		// 29-31 would skip short months.
		return fmt.Errorf("anchor month day %d out of range", a.MonthDay)
	}
	return nil
}

func (a Anchor) location() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

// Spec maps a frequency to a seconds-enabled cron spec.
func (a Anchor) Spec(f models.Frequency) (string, error) {
	switch f {
	case models.FrequencyHourly:
		return "0 0 * * * *", nil
	case models.FrequencyDaily:
		return fmt.Sprintf("0 %d %d * * *", a.Minute, a.Hour), nil
	case models.FrequencyWeekly:
		return fmt.Sprintf("0 %d %d * * %d", a.Minute, a.Hour, int(a.Weekday)), nil
	case models.FrequencyMonthly:
		return fmt.Sprintf("0 %d %d %d * *", a.Minute, a.Hour, a.MonthDay), nil
	default:
		return "", fmt.Errorf("unknown frequency %q", f)
	}
}
