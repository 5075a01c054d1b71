package crucible

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/flow"
)

type dumpMutation struct {
	ModulePath string `json:"module_path"`
	Operator   string `json:"operator_name"`
	Occurrence int    `json:"occurrence"`
	StartPos   []int  `json:"start_pos"`
}

type dumpJob struct {
	JobID     string         `json:"job_id"`
	Mutations []dumpMutation `json:"mutations"`
}

type dumpResult struct {
	WorkerOutcome string `json:"worker_outcome"`
	TestOutcome   string `json:"test_outcome"`
	Diff          string `json:"diff"`
}

// Analysis is a dump restricted to one line range.
type Analysis struct {
	Total     int
	Killed    int
	Surviving []flow.Mutant
	// Skipped counts dump lines that could not be decoded.
	Skipped int
}

// Score returns killed/total, or 1 when no mutant fell inside the range.
func (a Analysis) Score() float64 {
	if a.Total == 0 {
		return 1.0
	}
	return float64(a.Killed) / float64(a.Total)
}

// MutantID formats the identifier of a mutation.
func MutantID(module, operator string, occurrence int) string {
	return fmt.Sprintf("%s:%s:%d", module, operator, occurrence)
}

// ParseDump reads an NDJSON dump and keeps mutants starting on lines
// [start, end]. A mutant is killed when the tests killed it or the worker
// timed out; it survived when the tests passed on a normal run. Any other
// outcome, an incompetent mutant for instance, counts toward the total only.
func ParseDump(dump string, start, end int) Analysis {
	var a Analysis
	sc := bufio.NewScanner(strings.NewReader(dump))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var entry []json.RawMessage
		if err := json.Unmarshal([]byte(line), &entry); err != nil || len(entry) < 2 {
			a.Skipped++
			continue
		}
		var job dumpJob
		var res dumpResult
		if json.Unmarshal(entry[0], &job) != nil || json.Unmarshal(entry[1], &res) != nil {
			a.Skipped++
			continue
		}
		if len(job.Mutations) == 0 {
			continue
		}

		m := job.Mutations[0]
		ln := 0
		if len(m.StartPos) > 0 {
			ln = m.StartPos[0]
		}
		if ln < start || ln > end {
			continue
		}

		a.Total++
		test := strings.ToLower(res.TestOutcome)
		worker := strings.ToLower(res.WorkerOutcome)
		switch {
		case test == "killed" || worker == "timeout":
			a.Killed++
		case test == "survived" && worker == "normal":
			diff := res.Diff
			if diff == "" {
				diff = "(no diff available)"
			}
			a.Surviving = append(a.Surviving, flow.Mutant{
				ID:   MutantID(m.ModulePath, m.Operator, m.Occurrence),
				Diff: diff,
			})
		}
	}
	return a
}
