// Package agent talks to the coding agent CLI and builds the agent-driven
// collaborators on top of it: the prototyper, the refactorer and the
// optimizer.
//
// A [Session] is one agent conversation. The first prompt starts it with an
// explicit session id; every later prompt resumes it, so the agent keeps the
// context of earlier turns and feedback can be sent as a follow-up.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/util"
	"github.com/Iron-Ham/breakfix/internal/workspace"
)

// Conversation is a multi-turn exchange with an agent.
type Conversation interface {
	Send(ctx context.Context, prompt string) (string, error)
}

// SessionOptions configures a new conversation.
type SessionOptions struct {
	// Name labels the conversation in logs and events.
	Name string
	// Dir is the agent's working directory; edits under it are tracked.
	Dir          string
	SystemPrompt string
}

// Opener starts conversations.
type Opener interface {
	Open(opts SessionOptions) Conversation
}

// CLI runs the agent command in print mode.
type CLI struct {
	command         string
	model           string
	skipPermissions bool
	timeout         time.Duration
	exclude         *workspace.Matcher
	logger          *logging.Logger
	bus             *event.Bus
}

// NewCLI creates a CLI from agent configuration. exclude limits edit
// tracking; logger and bus may be nil.
func NewCLI(cfg config.AgentConfig, exclude *workspace.Matcher, logger *logging.Logger, bus *event.Bus) *CLI {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLI{
		command:         command,
		model:           cfg.Model,
		skipPermissions: cfg.SkipPermissions,
		timeout:         cfg.AgentTimeout(),
		exclude:         exclude,
		logger:          logger.With("component", "agent"),
		bus:             bus,
	}
}

// Open starts a new session. Nothing runs until the first Send.
func (c *CLI) Open(opts SessionOptions) Conversation {
	return &Session{cli: c, opts: opts, id: uuid.NewString()}
}

// Session is one agent conversation.
type Session struct {
	cli  *CLI
	opts SessionOptions
	id   string

	mu    sync.Mutex
	turns int
}

// ID returns the agent session id.
func (s *Session) ID() string { return s.id }

// Turns returns the number of prompts sent so far.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// args builds the command line for the next turn. The prompt is passed on stdin.
func (s *Session) args() []string {
	args := []string{"--print"}
	if s.cli.model != "" {
		args = append(args, "--model", s.cli.model)
	}
	if s.cli.skipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if s.opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", s.opts.SystemPrompt)
	}
	if s.turns == 0 {
		return append(args, "--session-id", s.id)
	}
	return append(args, "--resume", s.id)
}

// Send delivers prompt and returns the agent's final text. A failed or
// timed-out turn wraps errors.ErrCollaborator; cancellation of ctx is
// returned wrapping ctx.Err().
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := ctx
	if s.cli.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cli.timeout)
		defer cancel()
	}

	var tracker *workspace.Tracker
	if s.opts.Dir != "" {
		t, err := workspace.NewTracker(s.opts.Dir, s.cli.exclude)
		if err != nil {
			s.cli.logger.Warn("edit tracking unavailable", "dir", s.opts.Dir, "error", err)
		} else {
			tracker = t
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.cli.command, s.args()...)
	cmd.Dir = s.opts.Dir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	var touched []string
	if tracker != nil {
		touched = tracker.Stop()
	}

	var exitErr *exec.ExitError
	if runErr == nil || errors.As(runErr, &exitErr) {
		s.turns++
	}
	turn := s.turns

	s.cli.logger.Info("agent turn",
		"session", s.id,
		"name", s.opts.Name,
		"turn", turn,
		"duration", duration,
		"touched", len(touched),
	)
	if len(touched) > 0 {
		s.cli.logger.Debug("agent edited files", "session", s.id, "files", strings.Join(touched, ","))
	}
	s.cli.bus.Publish(event.NewAgentTurnEvent(s.id, s.opts.Name, turn, duration, touched))

	if runErr != nil {
		if err := parent.Err(); err != nil {
			return "", fmt.Errorf("agent %s: %w", s.opts.Name, err)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: agent %s turn %d timed out after %s", errors.ErrCollaborator, s.opts.Name, turn, s.cli.timeout)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%w: agent %s turn %d: %v: %s",
			errors.ErrCollaborator, s.opts.Name, turn, runErr, util.ClipOutput(detail, 2000))
	}
	return stdout.String(), nil
}
