package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/breakfix/internal/checkpoint"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [root]",
	Short: "Show where a run stands",
	Long: `Display the last checkpoint of a run: the next step, the units
finished so far and the units still queued, or the final report.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	store, err := openStore(root, "")
	if err != nil {
		return err
	}
	latest, err := store.Latest()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if latest == nil {
		_, _ = fmt.Fprintf(out, "No run recorded in %s\n", root)
		return nil
	}
	_, _ = fmt.Fprintf(out, "Run: %s\n", latest.RunID)
	_, _ = fmt.Fprintf(out, "Last checkpoint: %s (%s)\n\n", latest.Summary(),
		latest.WrittenAt.Local().Format("2006-01-02 15:04:05"))

	switch latest.Kind {
	case checkpoint.KindTerminal:
		var report flow.Report
		if err := json.Unmarshal(latest.Value, &report); err != nil {
			return fmt.Errorf("decode report: %w", err)
		}
		_, _ = fmt.Fprintln(out, renderReport(report))
	case checkpoint.KindSignal:
		_, _ = fmt.Fprintln(out, errorStyle.Render("Stopped: ")+latest.Message)
		return writeUnitProgress(out, store)
	case checkpoint.KindContinuation:
		project, current, err := decodeProjectState(latest.State)
		if err != nil {
			return err
		}
		writeProjectStatus(out, project, current)
		return writeUnitProgress(out, store)
	}
	return nil
}

// decodeProjectState extracts the project state from a project graph
// continuation. Per-unit nodes carry it inside a UnitTask together with the
// unit they are working on.
func decodeProjectState(raw json.RawMessage) (flow.ProjectState, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return flow.ProjectState{}, "", fmt.Errorf("decode state: %w", err)
	}
	if _, ok := fields["unit"]; ok {
		var task flow.UnitTask
		if err := json.Unmarshal(raw, &task); err != nil {
			return flow.ProjectState{}, "", fmt.Errorf("decode unit task: %w", err)
		}
		return task.Project, task.Unit.Name, nil
	}
	var s flow.ProjectState
	if err := json.Unmarshal(raw, &s); err != nil {
		return flow.ProjectState{}, "", fmt.Errorf("decode project state: %w", err)
	}
	return s, "", nil
}

func writeProjectStatus(w io.Writer, s flow.ProjectState, current string) {
	if s.Project.Name != "" {
		_, _ = fmt.Fprintf(w, "Project: %s\n", titleStyle.Render(s.Project.Name))
	}
	if current != "" {
		_, _ = fmt.Fprintf(w, "Current unit: %s\n", current)
	}
	if len(s.FinishedUnits) > 0 {
		_, _ = fmt.Fprintf(w, "Finished (%d):\n", len(s.FinishedUnits))
		for _, m := range s.FinishedUnits {
			_, _ = fmt.Fprintf(w, "  %s\n", markerStyle(m).Render(m))
		}
	}
	if len(s.UnitQueue) > 0 {
		_, _ = fmt.Fprintf(w, "Queued (%d):\n", len(s.UnitQueue))
		for _, u := range s.UnitQueue {
			_, _ = fmt.Fprintf(w, "  %s\n", mutedStyle.Render(u.Name))
		}
	}
}

// writeUnitProgress prints the last checkpoint of every nested unit graph.
func writeUnitProgress(w io.Writer, store *checkpoint.Store) error {
	units := store.Sub("units")
	entries, err := os.ReadDir(units.Dir())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	header := false
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		latest, err := units.Sub(e.Name()).Latest()
		if err != nil {
			return err
		}
		if latest == nil {
			continue
		}
		if !header {
			_, _ = fmt.Fprintln(w, "\nUnit graphs:")
			header = true
		}
		_, _ = fmt.Fprintf(w, "  %-32s %s\n", e.Name(), latest.Summary())
	}
	return nil
}
