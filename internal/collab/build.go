package collab

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/breakfix/internal/agent"
	"github.com/Iron-Ham/breakfix/internal/config"
	"github.com/Iron-Ham/breakfix/internal/crucible"
	"github.com/Iron-Ham/breakfix/internal/errors"
	"github.com/Iron-Ham/breakfix/internal/event"
	"github.com/Iron-Ham/breakfix/internal/flow"
	"github.com/Iron-Ham/breakfix/internal/logging"
	"github.com/Iron-Ham/breakfix/internal/ratchet"
	"github.com/Iron-Ham/breakfix/internal/retry"
	"github.com/Iron-Ham/breakfix/internal/suite"
	"github.com/Iron-Ham/breakfix/internal/workspace"
)

// Options carries the ambient dependencies shared by every collaborator.
type Options struct {
	Logger  *logging.Logger
	Bus     *event.Bus
	Retries *retry.Manager
	// In and Out default to the process's stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// Build assembles the capability bag for a run rooted at root. Every
// collaborator command must be configured.
func Build(root string, cfg *config.Config, opts Options) (flow.Deps, error) {
	if missing := Unconfigured(cfg); len(missing) > 0 {
		return flow.Deps{}, fmt.Errorf("%w: no command configured for collaborators.%s",
			errors.ErrMissingCapability, strings.Join(missing, ", collaborators."))
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	exclude, err := workspace.NewMatcher(cfg.Workspace.Exclude)
	if err != nil {
		return flow.Deps{}, err
	}
	copier, err := workspace.NewCopier(cfg.Workspace, logger)
	if err != nil {
		return flow.Deps{}, err
	}

	command := func(name string) *Command {
		return NewCommand(name, cfg.Collaborators[name], root, cfg.Agent.AgentTimeout(), logger.With("collaborator", name))
	}
	prod := cfg.Workspace.ProductionDir
	if !filepath.IsAbs(prod) {
		prod = filepath.Join(root, prod)
	}

	cli := agent.NewCLI(cfg.Agent, exclude, logger, opts.Bus)
	agentOpts := agent.Options{
		Logger:        logger,
		Bus:           opts.Bus,
		Retries:       opts.Retries,
		FeedbackLimit: cfg.Retry.FeedbackLimit,
	}
	tests := suite.NewRunner(prod, cfg.Tests, logger)
	mutations := crucible.NewRunner(prod, cfg.Mutation, logger)

	return flow.Deps{
		Input:                NewPrompter(opts.In, opts.Out),
		Analyst:              Analyst{command(config.CollabAnalyst)},
		HarnessBuilder:       HarnessBuilder{command(config.CollabHarnessBuilder)},
		HarnessVerifier:      HarnessVerifier{command(config.CollabHarnessVerifier)},
		InterfaceAnalyzer:    InterfaceAnalyzer{command(config.CollabInterfaceAnalyzer)},
		Scaffolder:           Scaffolder{command(config.CollabScaffold)},
		E2E:                  E2E{command(config.CollabE2E)},
		Prototyper:           agent.NewPrototyper(cli, agentOpts),
		ArchitectureReviewer: ArchitectureReviewer{command(config.CollabArchitectureReviewer)},
		Refactorer:           agent.NewRefactorer(cli, agentOpts),
		WorkspaceCopier:      copier,
		Distiller:            Distiller{command(config.CollabDistiller)},
		Stubber:              Stubber{command(config.CollabStubber)},
		Oracle:               Oracle{command(config.CollabOracle)},
		RatchetRed: ratchet.NewRed(ratchet.RedConfig{
			Agents:   cli,
			Dir:      prod,
			TestsDir: cfg.Tests.Dir,
			Suite:    tests,
			Reviewer: Validator{command(config.CollabValidator)},
			Arbiter:  Arbiter{command(config.CollabArbiter)},
			Exclude:  exclude,
			Attempts: cfg.Retry.RedAttempts,
		}, agentOpts),
		RatchetGreen: ratchet.NewGreen(ratchet.GreenConfig{
			Agents:   cli,
			Root:     root,
			Dir:      prod,
			TestsDir: cfg.Tests.Dir,
			Suite:    tests,
			Exclude:  exclude,
			Attempts: cfg.Retry.GreenAttempts,
		}, agentOpts),
		MutationRunner: mutations,
		Sentinel:       crucible.NewSentinel(cli, prod, tests, exclude, agentOpts),
		MutantVerifier: crucible.NewVerifier(mutations, logger),
		Optimizer:      agent.NewOptimizer(cli, prod, cfg.Tests.Dir, tests, exclude, cfg.Retry.OptimizeAttempts, agentOpts),
	}, nil
}

// Unconfigured lists the collaborators without a command, sorted.
func Unconfigured(cfg *config.Config) []string {
	var missing []string
	for _, name := range config.ValidCollaborators() {
		if strings.TrimSpace(cfg.Collaborators[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
