package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/harrisonrobin/tempo/pkg/adjust"
	"github.com/harrisonrobin/tempo/pkg/conflict"
	"github.com/harrisonrobin/tempo/pkg/daily"
	"github.com/harrisonrobin/tempo/pkg/history"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(22)
	valueStyle  = lipgloss.NewStyle().Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	boxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
)

func row(label string, value any) string {
	return labelStyle.Render(label) + valueStyle.Render(fmt.Sprint(value))
}

func adjustRows(rep adjust.Report) []string {
	rows := []string{
		row("Tasks analyzed", rep.TasksAnalyzed),
		row("Without date", rep.TasksWithoutDate),
		row("Dates assigned", rep.DatesAssigned),
		row("Conflicts detected", rep.ConflictsDetected),
		row("Tasks rescheduled", rep.TasksRescheduled),
	}
	if len(rep.OverloadedDays) > 0 {
		days := make([]string, len(rep.OverloadedDays))
		for i, d := range rep.OverloadedDays {
			days[i] = d.Format("Mon 02 Jan")
		}
		rows = append(rows, row("Overloaded days", strings.Join(days, ", ")))
	}
	return rows
}

func failureRows(failures []adjust.Failure) []string {
	var rows []string
	for _, f := range failures {
		rows = append(rows, warnStyle.Render("! "+f.String()))
	}
	return rows
}

func renderAdjust(w io.Writer, rep adjust.Report) {
	lines := append([]string{titleStyle.Render("Adjustment")}, adjustRows(rep)...)
	lines = append(lines, failureRows(rep.Failures)...)
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func renderDaily(w io.Writer, rep daily.Report) {
	status := "complete"
	if rep.Partial() {
		status = warnStyle.Render("partial")
	}
	lines := []string{
		titleStyle.Render("Daily run") + " " + subtleStyle.Render(status),
		row("Inbox classified", rep.Classified),
		row("Calls seeded", rep.Seeded),
	}
	lines = append(lines, adjustRows(rep.Adjust)...)
	lines = append(lines,
		row("Events moved", rep.Conflicts.Moved),
		row("Events left in place", rep.Conflicts.Unplaced+rep.Conflicts.Failed),
		row("Time blocks", rep.Blocked),
		row("Not blocked", rep.Unblocked),
	)
	lines = append(lines, failureRows(rep.Adjust.Failures)...)
	lines = append(lines, failureRows(rep.Failures)...)
	for _, err := range rep.StageErrors {
		lines = append(lines, warnStyle.Render("! "+err.Error()))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func renderPlan(w io.Writer, actions []conflict.Action) {
	if len(actions) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No conflicts."))
		return
	}
	lines := []string{titleStyle.Render(fmt.Sprintf("%d planned move(s)", len(actions)))}
	for _, a := range actions {
		line := a.String()
		if a.Slot == nil {
			line = warnStyle.Render(line)
		}
		lines = append(lines, line)
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

func renderApply(w io.Writer, rep conflict.ApplyReport) {
	fmt.Fprintln(w, row("Moved", rep.Moved))
	if rep.Unplaced > 0 || rep.Failed > 0 {
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d without a slot, %d failed", rep.Unplaced, rep.Failed)))
	}
}

func renderHistory(w io.Writer, changes []history.Change) {
	if len(changes) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("History is empty."))
		return
	}
	for _, c := range changes {
		fmt.Fprintln(w, subtleStyle.Render(c.ID[:8])+" "+c.String())
	}
}
