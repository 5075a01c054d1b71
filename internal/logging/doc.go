// Package logging provides structured logging for breakfix runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent context attributes. A pipeline run spans two graph levels (the
// project graph and one unit graph per work unit), so every entry can carry
// the run ID, the graph name, the node being dispatched and the unit under
// reconstruction.
//
// # Basic Usage
//
//	logger, err := logging.Open("/path/to/root/.breakfix", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	runLogger := logger.WithRun(runID).WithGraph("project")
//	runLogger.Info("dispatching", "node", "project.scaffold")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"dispatching","run_id":"...","graph":"project","node":"project.scaffold"}
//
// # Log Rotation
//
// Long pipeline runs produce a lot of agent feedback in the log, so the log
// file rotates by size. Rotated files are named debug.log.1, debug.log.2, and
// so on, with .1 the most recent; with compression enabled they become
// debug.log.1.gz and so on.
//
// # Aggregation
//
// [AggregateLogs] reads the current file and its backups, [FilterLogs] narrows
// entries by level, unit, node, run or time window, and [ExportLogEntries]
// writes them as json, text or csv. These back the "breakfix logs" command.
//
// # Testing
//
// Use [NopLogger] to discard output, or [New] with a bytes.Buffer to assert
// on what was logged.
package logging
