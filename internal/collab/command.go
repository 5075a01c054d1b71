// Package collab connects the pipeline to its external collaborators.
//
// Most capabilities are shell commands configured under collaborators.*:
// each call writes one JSON request to the command's stdin and decodes one
// JSON response from its stdout. Agent-driven capabilities come from the
// agent, ratchet and crucible packages. Build assembles all of them into
// the flow capability bag.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/util"
)

// stderrClip bounds the stderr quoted in a collaborator error.
const stderrClip = 2000

// Command is one JSON-over-stdio collaborator.
type Command struct {
	name    string
	command string
	dir     string
	timeout time.Duration
	logger  *logging.Logger
}

// NewCommand creates a collaborator running command through sh -c in dir.
func NewCommand(name, command, dir string, timeout time.Duration, logger *logging.Logger) *Command {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Command{name: name, command: command, dir: dir, timeout: timeout, logger: logger}
}

// Name returns the collaborator name.
func (c *Command) Name() string { return c.name }

// Call sends req and decodes the response into resp. A command that cannot
// start, exits non-zero, times out or prints something other than JSON
// fails with errors.ErrCollaborator. Cancellation of ctx is returned as is.
func (c *Command) Call(ctx context.Context, req, resp any) error {
	input, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", c.name, err)
	}

	parent := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	cmd.Dir = c.dir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	c.logger.Debug("collaborator call",
		"collaborator", c.name,
		"duration", time.Since(start),
		"request_bytes", len(input),
		"response_bytes", stdout.Len(),
	)

	if perr := parent.Err(); perr != nil {
		return perr
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s timed out after %s", errors.ErrCollaborator, c.name, c.timeout)
	}
	if runErr != nil {
		detail := util.ClipOutput(strings.TrimSpace(stderr.String()), stderrClip)
		return fmt.Errorf("%w: %s: %v: %s", errors.ErrCollaborator, c.name, runErr, detail)
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), resp); err != nil {
		return fmt.Errorf("%w: %s returned invalid JSON: %v", errors.ErrCollaborator, c.name, err)
	}
	return nil
}
