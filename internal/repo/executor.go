package repo

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
	"github.com/guardrailstack/guardrail-monitor/internal/utils"
)

// CommandRollbackExecutor performs a rollback by invoking an external restore
// command with the backup path and environment appended to its arguments. The
// command is expected to be internally idempotent; the engine only guarantees
// it is invoked at most once per incident.
type CommandRollbackExecutor struct {
	logger  *slog.Logger
	command string
	args    []string
	timeout time.Duration
}

// NewCommandRollbackExecutor constructs an executor for the configured command.
func NewCommandRollbackExecutor(logger *slog.Logger, command string, args []string, timeout time.Duration) *CommandRollbackExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &CommandRollbackExecutor{
		logger:  logger,
		command: command,
		args:    append([]string(nil), args...),
		timeout: timeout,
	}
}

// Execute runs the restore command, blocking until it finishes or the bounded
// timeout elapses.
func (e *CommandRollbackExecutor) Execute(ctx context.Context, backup models.BackupRef, environment string) error {
	if e.command == "" {
		return fmt.Errorf("rollback command not configured")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append(append([]string(nil), e.args...), backup.Path, environment)
	cmd := exec.CommandContext(runCtx, e.command, args...)

	e.logger.Info("running restore command",
		slog.String("command", e.command),
		slog.String("backup", backup.Name),
		slog.String("environment", environment),
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(output))
		if runCtx.Err() == context.DeadlineExceeded {
			return utils.NewAppError("rollback.execute", "restore command timed out", runCtx.Err())
		}
		if detail != "" {
			return utils.NewAppError("rollback.execute", detail, err)
		}
		return utils.NewAppError("rollback.execute", "restore command failed", err)
	}
	return nil
}
