package schedule

import (
	"testing"

	"stealthdca/internal/config"
	"stealthdca/internal/models"
)

func TestAnchorSpec(t *testing.T) {
	a := Anchor{Hour: 14, Minute: 30, Weekday: 5, MonthDay: 15}
	cases := map[models.Frequency]string{
		models.FrequencyHourly:  "0 0 * * * *",
		models.FrequencyDaily:   "0 30 14 * * *",
		models.FrequencyWeekly:  "0 30 14 * * 5",
		models.FrequencyMonthly: "0 30 14 15 * *",
	}
	for f, want := range cases {
		got, err := a.Spec(f)
		if err != nil {
			t.Fatalf("spec %s: %v", f, err)
		}
		if got != want {
			t.Fatalf("spec %s = %q, want %q", f, got, want)
		}
	}
	if _, err := a.Spec("yearly"); err == nil {
		t.Fatalf("expected error for unknown frequency")
	}
}

func TestAnchorFromConfig(t *testing.T) {
	a, err := AnchorFromConfig(config.ScheduleConfig{AnchorHour: 9, Weekday: 1, MonthDay: 1, Timezone: "Europe/Berlin"})
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if a.Location.String() != "Europe/Berlin" {
		t.Fatalf("location = %s", a.Location)
	}
	if _, err := AnchorFromConfig(config.ScheduleConfig{AnchorHour: 25, MonthDay: 1}); err == nil {
		t.Fatalf("expected hour range error")
	}
	if _, err := AnchorFromConfig(config.ScheduleConfig{MonthDay: 31}); err == nil {
		t.Fatalf("expected month day range error")
	}
	if _, err := AnchorFromConfig(config.ScheduleConfig{MonthDay: 1, Timezone: "Mars/Olympus"}); err == nil {
		t.Fatalf("expected timezone error")
	}
}
