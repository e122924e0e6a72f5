package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"stealthdca/internal/models"
	"stealthdca/internal/pipeline"
)

var styles = struct {
	title lipgloss.Style
	muted lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	label lipgloss.Style
	box   lipgloss.Style
}{
	title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2CD7C7")),
	muted: lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A89")),
	ok:    lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7")),
	warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F")),
	fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C")),
	label: lipgloss.NewStyle().Width(18).Foreground(lipgloss.Color("#20B9B4")),
	box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#16858E")).
		Padding(0, 1),
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func statusIcon(s pipeline.Status) string {
	switch s {
	case pipeline.StatusStart:
		return styles.muted.Render("○")
	case pipeline.StatusSuccess:
		return styles.ok.Render("✓")
	case pipeline.StatusWarn:
		return styles.warn.Render("⚠")
	case pipeline.StatusFail:
		return styles.fail.Render("✗")
	default:
		return styles.muted.Render("•")
	}
}

// eventLine renders one progress event.
func eventLine(e pipeline.Event) string {
	stage := styles.label.Width(10).Render(string(e.Stage))
	msg := e.Message
	switch e.Status {
	case pipeline.StatusWarn:
		msg = styles.warn.Render(msg)
	case pipeline.StatusFail:
		msg = styles.fail.Render(msg)
	}
	return fmt.Sprintf("%s %s %s", statusIcon(e.Status), stage, msg)
}

func field(label, value string) string {
	return styles.label.Render(label) + value
}

func renderResult(res *pipeline.Result) string {
	lines := []string{
		styles.title.Render("swap complete"),
		field("signature", res.Signature),
		field("output", res.OutputAmount.String()+" "+res.OutputAsset),
		field("destination", res.Destination),
	}
	if res.EphemeralAddress != "" {
		lines = append(lines, field("identity", res.EphemeralAddress))
	}
	if res.EncryptedAmount != "" {
		lines = append(lines, field("encrypted amount", res.EncryptedAmount))
	}
	lines = append(lines, "", renderStages(res.Stages))
	return styles.box.Render(strings.Join(lines, "\n"))
}

func renderStages(stages []pipeline.StageReport) string {
	var b strings.Builder
	for i, s := range stages {
		outcome := string(s.Outcome)
		switch s.Outcome {
		case pipeline.OutcomeExecuted:
			outcome = styles.ok.Render(outcome)
		case pipeline.OutcomeSimulated:
			outcome = styles.warn.Render(outcome)
		case pipeline.OutcomeFailed:
			outcome = styles.fail.Render(outcome)
		default:
			outcome = styles.muted.Render(outcome)
		}
		line := field(string(s.Stage), outcome)
		if s.Provider != "" {
			line += styles.muted.Render(" (" + s.Provider + ")")
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

func renderSchedule(s models.Schedule, next *time.Time) string {
	state := styles.ok.Render("active")
	if !s.Active {
		state = styles.muted.Render("paused")
	}
	runs := fmt.Sprintf("%d", s.ExecutedCount)
	if left := s.Remaining(); left != nil {
		runs = fmt.Sprintf("%d / %d (%d left)", s.ExecutedCount, *s.TotalExecutions, *left)
	}
	lines := []string{
		styles.title.Render(s.ID),
		field("pair", s.FromAsset+" → "+s.ToAsset),
		field("amount", s.Amount.String()+" "+s.FromAsset),
		field("frequency", string(s.Frequency)),
		field("slippage", fmt.Sprintf("%d bps", s.SlippageBps)),
		field("state", state),
		field("executions", runs),
		field("privacy", privacySummary(s.Privacy)),
	}
	if s.Destination != "" {
		lines = append(lines, field("destination", s.Destination))
	}
	if next != nil {
		lines = append(lines, field("next fire", next.Format(time.RFC3339)))
	}
	return styles.box.Render(strings.Join(lines, "\n"))
}

func scheduleRow(s models.Schedule) string {
	state := styles.ok.Render("active")
	if !s.Active {
		state = styles.muted.Render("paused")
	}
	return fmt.Sprintf("%s  %-14s %12s  %-8s %s", s.ID, s.FromAsset+"→"+s.ToAsset, s.Amount.String(), s.Frequency, state)
}

func executionRow(e models.Execution) string {
	ts := e.Timestamp.Local().Format("2006-01-02 15:04:05")
	if e.Success {
		out := ""
		if e.OutputAmount != nil {
			out = e.OutputAmount.String()
		}
		return fmt.Sprintf("%s %s  %s  %s", styles.ok.Render("✓"), ts, out, styles.muted.Render(e.Signature))
	}
	return fmt.Sprintf("%s %s  %s", styles.fail.Render("✗"), ts, e.Error)
}

func privacySummary(p models.PrivacyFlags) string {
	var on []string
	if p.UseEphemeral {
		on = append(on, "ephemeral")
	}
	if p.UsePool {
		on = append(on, "pool")
	}
	if p.UseEncryptedTransfer {
		on = append(on, "encrypted-transfer")
	}
	if p.UseConfidential {
		on = append(on, "confidential")
	}
	if p.UseScreening {
		on = append(on, "screening")
	}
	if len(on) == 0 {
		return styles.muted.Render("none")
	}
	return strings.Join(on, ", ")
}
