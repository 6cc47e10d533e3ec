package execution

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DoneSentinel is returned for a successful command that printed nothing.
const DoneSentinel = "Done."

// ShellExecutor runs commands through the host's default interpreter.
type ShellExecutor struct {
	timeout   time.Duration
	maxOutput int
	logger    *zap.Logger
}

func NewShellExecutor(timeout time.Duration, logger *zap.Logger) *ShellExecutor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellExecutor{timeout: timeout, maxOutput: defaultMaxOutput, logger: logger.Named("shell")}
}

// Run executes command. A nonzero exit yields an *ExitError carrying stderr
// and empty output. A timeout yields an error wrapping ErrTimeout.
func (e *ShellExecutor) Run(ctx context.Context, command string) (string, error) {
	start := time.Now()
	name, args := shellInvocation(command)
	res, err := runProcess(ctx, "shell", e.timeout, e.maxOutput, name, args...)
	fields := []zap.Field{zap.Duration("duration", time.Since(start))}
	if err != nil {
		var exitErr *ExitError
		switch {
		case errors.Is(err, ErrTimeout):
			e.logger.Warn("command timed out", append(fields, zap.Duration("timeout", e.timeout))...)
		case errors.As(err, &exitErr):
			e.logger.Info("command failed", append(fields, zap.Int("exit_code", exitErr.Code))...)
		default:
			e.logger.Warn("command could not run", append(fields, zap.Error(err))...)
		}
		return "", err
	}
	e.logger.Debug("command completed", fields...)
	if res.stdout == "" {
		return DoneSentinel, nil
	}
	return res.stdout, nil
}
