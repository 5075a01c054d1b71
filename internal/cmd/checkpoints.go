package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Iron-Ham/breakfix/internal/checkpoint"
	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/util"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect the checkpoints of a run",
	Long: `Inspect the checkpoints written by 'breakfix run'.

The project graph's checkpoints are shown by default. Use --unit to look at
the nested checkpoints of one unit's graph.`,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list [root]",
	Short: "List checkpoints",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckpointsList,
}

var checkpointsShowCmd = &cobra.Command{
	Use:   "show <number> [root]",
	Short: "Show one checkpoint with its state",
	Long: `Show one checkpoint. The record and its state are printed as YAML;
use --json to print the file as stored.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCheckpointsShow,
}

var checkpointsWatchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Print checkpoints as a run writes them",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheckpointsWatch,
}

var (
	checkpointsUnit string
	checkpointsJSON bool
	checkpointsAll  bool
)

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsShowCmd)
	checkpointsCmd.AddCommand(checkpointsWatchCmd)

	checkpointsCmd.PersistentFlags().StringVarP(&checkpointsUnit, "unit", "u", "", "fully-qualified unit name")
	checkpointsShowCmd.Flags().BoolVar(&checkpointsJSON, "json", false, "print the stored JSON")
	checkpointsWatchCmd.Flags().BoolVar(&checkpointsAll, "all", false, "print existing checkpoints first")
}

// openStore returns the checkpoint store for root, or the nested store of
// unit when one is named.
func openStore(root, unit string) (*checkpoint.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store := checkpoint.NewStore(cfg.Checkpoint.ResolveCheckpointDir(root))
	if unit != "" {
		store = store.Sub("units").Sub(util.Slug(unit))
	}
	return store, nil
}

func runCheckpointsList(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	store, err := openStore(root, checkpointsUnit)
	if err != nil {
		return err
	}
	records, err := store.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		_, _ = fmt.Fprintf(out, "No checkpoints in %s\n", store.Dir())
		return nil
	}
	for _, rec := range records {
		writeRecordLine(out, rec)
	}
	return nil
}

func writeRecordLine(w io.Writer, rec checkpoint.Record) {
	_, _ = fmt.Fprintf(w, "%s  %s  %s\n",
		mutedStyle.Render(rec.WrittenAt.Local().Format("2006-01-02 15:04:05")),
		titleStyle.Render(rec.Graph),
		rec.Summary(),
	)
}

func runCheckpointsShow(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid checkpoint number %q", args[0])
	}
	root, err := resolveRoot(args[1:])
	if err != nil {
		return err
	}
	store, err := openStore(root, checkpointsUnit)
	if err != nil {
		return err
	}
	rec, err := store.Read(n)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if checkpointsJSON {
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, string(data))
		return nil
	}
	data, err := recordYAML(rec)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(out, string(data))
	return nil
}

// recordYAML renders a record with its JSON state and value decoded, so the
// whole checkpoint reads as one YAML document.
func recordYAML(rec checkpoint.Record) ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(rec); err != nil {
		return nil, err
	}
	for _, field := range []struct {
		key string
		raw json.RawMessage
	}{
		{"state", rec.State},
		{"value", rec.Value},
	} {
		if len(field.raw) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(field.raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s of checkpoint %d: %w", field.key, rec.Number, err)
		}
		var key, value yaml.Node
		key.SetString(field.key)
		if err := value.Encode(v); err != nil {
			return nil, err
		}
		doc.Content = append(doc.Content, &key, &value)
	}
	return yaml.Marshal(&doc)
}

func runCheckpointsWatch(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	store, err := openStore(root, checkpointsUnit)
	if err != nil {
		return err
	}

	after := 0
	if !checkpointsAll {
		latest, err := store.Latest()
		if err != nil {
			return err
		}
		if latest != nil {
			after = latest.Number
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", store.Dir())
	return store.Watch(ctx, after, func(rec checkpoint.Record) {
		writeRecordLine(out, rec)
	})
}
