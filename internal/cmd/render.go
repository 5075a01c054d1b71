package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/util"
	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#A78BFA")
	greenColor   = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#9CA3AF")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	successStyle = lipgloss.NewStyle().Foreground(greenColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	boxStyle     = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// markerStyle picks the color of a finished-unit marker.
func markerStyle(marker string) lipgloss.Style {
	switch {
	case strings.HasSuffix(marker, "(Verified)"):
		return successStyle
	case strings.Contains(marker, "(Failed - "):
		return errorStyle
	default:
		return warnStyle
	}
}

// renderReport renders the project graph's terminal value.
func renderReport(r flow.Report) string {
	verified, skipped, failed := r.Count()

	var sb strings.Builder
	title := "Project Complete"
	if r.Project != "" {
		title += ": " + r.Project
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render(fmt.Sprintf("%d verified, %d skipped, %d failed", verified, skipped, failed)))
	if len(r.FinishedUnits) > 0 {
		sb.WriteString("\n")
		lines := make([]string, len(r.FinishedUnits))
		for i, m := range r.FinishedUnits {
			lines[i] = markerStyle(m).Render(m)
		}
		sb.WriteString(boxStyle.Render(strings.Join(lines, "\n")))
	}
	return sb.String()
}

// renderFailure describes how a run ended when it did not reach its
// terminal node.
func renderFailure(err error) string {
	var runErr *errors.RunError
	if !errors.As(err, &runErr) {
		return errorStyle.Render("Run failed: ") + err.Error()
	}

	var sb strings.Builder
	if runErr.Kind == errors.KindSignal {
		sb.WriteString(warnStyle.Bold(true).Render("Run stopped"))
	} else {
		sb.WriteString(errorStyle.Render("Run faulted"))
	}
	if runErr.Node != "" {
		sb.WriteString(mutedStyle.Render(fmt.Sprintf(" at %s/%s", runErr.Graph, runErr.Node)))
	}
	sb.WriteString("\n")
	msg := runErr.Message
	if runErr.Err != nil {
		msg += ": " + runErr.Err.Error()
	}
	sb.WriteString(msg)
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render("Run the same command again to resume from the last checkpoint."))
	return sb.String()
}

// progressLine formats the events worth showing on the terminal during a run.
func progressLine(e event.Event) (string, bool) {
	switch ev := e.(type) {
	case event.GraphStartedEvent:
		if ev.Resumed {
			return titleStyle.Render("resuming "+ev.Graph) + mutedStyle.Render(" run "+ev.RunID), true
		}
		if ev.Graph != flow.ProjectGraph.Name() {
			return "", false
		}
		return titleStyle.Render("starting "+ev.Graph) + mutedStyle.Render(" run "+ev.RunID), true
	case event.NodeDispatchedEvent:
		return mutedStyle.Render("  > " + ev.Node), true
	case event.UnitStartedEvent:
		return titleStyle.Render("unit "+ev.Unit) +
			mutedStyle.Render(fmt.Sprintf(" (%d test cases, %d units queued)", ev.TestCases, ev.Remaining)), true
	case event.UnitFinishedEvent:
		return "  " + markerStyle(ev.Marker).Render(ev.Marker), true
	case event.AttemptRejectedEvent:
		return warnStyle.Render(fmt.Sprintf("    %s attempt %d/%d rejected: ", ev.Step, ev.Attempt, ev.Max)) +
			util.TruncateString(util.FirstLine(ev.Feedback), 100), true
	case event.MutationScoredEvent:
		style := successStyle
		if ev.Surviving > 0 {
			style = warnStyle
		}
		return style.Render(fmt.Sprintf("    mutation round %d: %.0f%% killed, %d of %d surviving",
			ev.Round, ev.Score*100, ev.Surviving, ev.Total)), true
	case event.GraphFinishedEvent:
		if ev.Outcome == event.OutcomeTerminal {
			return "", false
		}
		return errorStyle.Render(fmt.Sprintf("%s %s: ", ev.Graph, ev.Outcome)) + util.TruncateString(util.FirstLine(ev.Detail), 100), true
	}
	return "", false
}

// subscribeProgress prints progress lines for every event published on bus.
func subscribeProgress(bus *event.Bus, w io.Writer) string {
	var mu sync.Mutex
	return bus.SubscribeAll(func(e event.Event) {
		line, ok := progressLine(e)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprintln(w, line)
	})
}
