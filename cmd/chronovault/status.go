package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/celerix-dev/chronovault/pkg/schema"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Width(18)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	stateColors = map[schema.State]lipgloss.Color{
		schema.StateActive:   lipgloss.Color("42"),
		schema.StateWarning:  lipgloss.Color("214"),
		schema.StateOverdue:  lipgloss.Color("196"),
		schema.StateReleased: lipgloss.Color("205"),
	}
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func renderStatus(v schema.Verdict, heirs []schema.HeirRecord) string {
	state := lipgloss.NewStyle().Bold(true).Foreground(stateColors[v.State]).Render(string(v.State))

	last := "never"
	if v.LastActivity != nil {
		last = v.LastActivity.UTC().Format(time.RFC3339)
	}
	locked := "unlocked"
	if v.FundsLocked {
		locked = "locked"
	}

	lines := []string{
		row("owner", v.Owner),
		row("state", state),
		row("funds", locked),
		row("last activity", last),
		row("deadline", v.Deadline.UTC().Format(time.RFC3339)),
		row("time left", fmt.Sprintf("%dd %dh %dm (%.0f%% elapsed)",
			v.Countdown.Days, v.Countdown.Hours, v.Countdown.Minutes, v.Countdown.Progress)),
		row("approvals", fmt.Sprintf("%d of %d required (%d heirs)", v.ApprovedHeirs, v.RequiredApprovals, v.HeirCount)),
	}
	for _, h := range heirs {
		mark := " "
		if h.Approved {
			mark = "✓"
		}
		lines = append(lines, row("  heir", fmt.Sprintf("%s %s %3d%%", mark, h.Address, h.Share)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
