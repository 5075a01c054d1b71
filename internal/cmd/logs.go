package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs [root]",
	Short: "View run logs",
	Long: `View and filter the debug log of a run, including rotated backups.

Examples:
  # Show the last 50 entries
  breakfix logs ./calculator

  # Everything logged for one unit
  breakfix logs ./calculator --unit calc.core.add -n 0

  # Warnings and errors from the last hour
  breakfix logs --level warn --since 1h

  # Export a run's log as CSV
  breakfix logs --run 3f2a... --format csv -o run.csv`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogs,
}

var (
	logsTail   int
	logsLevel  string
	logsSince  string
	logsGrep   string
	logsRunID  string
	logsGraph  string
	logsNode   string
	logsUnit   string
	logsFormat string
	logsOutput string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug, info, warn, error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "only entries newer than this duration (e.g. 30m, 2h)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsRunID, "run", "", "only entries of this run ID")
	logsCmd.Flags().StringVar(&logsGraph, "graph", "", "only entries of this graph (project, unit)")
	logsCmd.Flags().StringVar(&logsNode, "node", "", "only entries of this node")
	logsCmd.Flags().StringVarP(&logsUnit, "unit", "u", "", "only entries of this unit")
	logsCmd.Flags().StringVarP(&logsFormat, "format", "f", "",
		"export format ("+strings.Join(logging.ExportFormats(), ", ")+"); colored terminal output when empty")
	logsCmd.Flags().StringVarP(&logsOutput, "output", "o", "", "write to this file instead of stdout")
}

var levelStyles = map[string]lipgloss.Style{
	logging.LevelDebug: mutedStyle,
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA")),
	logging.LevelWarn:  warnStyle,
	logging.LevelError: errorStyle,
}

func runLogs(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	filter, err := logsFilter(time.Now())
	if err != nil {
		return err
	}

	entries, err := logging.AggregateLogs(config.StateDir(root))
	if err != nil {
		return err
	}
	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	out := cmd.OutOrStdout()
	if logsOutput != "" {
		f, err := os.Create(logsOutput)
		if err != nil {
			return fmt.Errorf("create %s: %w", logsOutput, err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	if logsFormat != "" || logsOutput != "" {
		return logging.ExportLogEntries(entries, out, logsFormat)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "No log entries match.")
		return nil
	}
	for _, e := range entries {
		_, _ = fmt.Fprintln(out, formatLogEntry(e))
	}
	return nil
}

func logsFilter(now time.Time) (logging.LogFilter, error) {
	filter := logging.LogFilter{
		RunID:           logsRunID,
		Graph:           logsGraph,
		Node:            logsNode,
		Unit:            logsUnit,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		level := strings.ToUpper(logsLevel)
		if !slices.Contains(logging.ValidLevels(), level) {
			return filter, fmt.Errorf("invalid level %q (valid: %s)", logsLevel, strings.Join(logging.ValidLevels(), ", "))
		}
		filter.Level = level
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return filter, fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.Since = now.Add(-d)
	}
	return filter, nil
}

// formatLogEntry formats a log entry for terminal output
func formatLogEntry(e logging.LogEntry) string {
	var sb strings.Builder
	sb.WriteString(mutedStyle.Render("[" + e.Timestamp.Local().Format("15:04:05.000") + "]"))
	sb.WriteString(" ")
	style, ok := levelStyles[e.Level]
	if !ok {
		style = lipgloss.NewStyle()
	}
	sb.WriteString(style.Render("[" + e.Level + "]"))
	sb.WriteString(" ")
	sb.WriteString(e.Message)

	for _, kv := range [][2]string{{"graph", e.Graph}, {"node", e.Node}, {"unit", e.Unit}} {
		if kv[1] != "" {
			sb.WriteString(" ")
			sb.WriteString(titleStyle.UnsetBold().Render(kv[0] + "=" + kv[1]))
		}
	}

	for _, k := range slices.Sorted(maps.Keys(e.Attrs)) {
		sb.WriteString(" ")
		sb.WriteString(mutedStyle.Render(k + "="))
		sb.WriteString(fmt.Sprint(e.Attrs[k]))
	}
	return sb.String()
}
