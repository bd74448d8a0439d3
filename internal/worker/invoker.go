package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr captured from an invocation.
	maxStderrBytes = 64 * 1024

	// defaultMaxOutputBytes caps stdout when Options leaves it unset.
	defaultMaxOutputBytes = 1 << 20

	// pipeDrainDelay bounds how long Wait keeps copying output after the agent
	// exits while a stray grandchild still holds the pipes.
	pipeDrainDelay = time.Second
)

// Options configures an Invoker.
type Options struct {
	Command        string
	Args           []string
	WorkDir        string
	Env            map[string]string
	KillGrace      time.Duration
	MaxOutputBytes int
	// EmptyReply replaces a successful but blank stdout.
	EmptyReply string
}

// Invoker runs the agent executable, one process per call.
type Invoker struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Invoker.
func New(opts Options) *Invoker {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = defaultMaxOutputBytes
	}
	if opts.EmptyReply == "" {
		opts.EmptyReply = config.DefaultEmpty
	}
	return &Invoker{
		opts:   opts,
		logger: log.WithComponent("worker"),
	}
}

// NewFromConfig creates an Invoker from the agent and replies config sections.
func NewFromConfig(cfg *config.Config) *Invoker {
	return New(Options{
		Command:        cfg.Agent.Command,
		Args:           cfg.Agent.Args,
		WorkDir:        cfg.Agent.WorkDir,
		Env:            cfg.Agent.Env,
		KillGrace:      cfg.Agent.KillGrace,
		MaxOutputBytes: cfg.Agent.MaxOutputBytes,
		EmptyReply:     cfg.Replies.Empty,
	})
}

// Argv returns the argument vector passed to the agent for one message.
func (i *Invoker) Argv(conversationID, text string) []string {
	argv := make([]string, 0, len(i.opts.Args)+2)
	argv = append(argv, i.opts.Args...)
	return append(argv, conversationID, text)
}

// Invoke runs the agent for one message and blocks until the process has exited
// or been killed. It never returns an error: every outcome is a Result.
func (i *Invoker) Invoke(ctx context.Context, conversationID, text string, timeout time.Duration) Result {
	logger := i.logger.With("conversation_id", conversationID)
	start := time.Now()

	res := i.run(ctx, conversationID, text, timeout, logger)
	res.Duration = time.Since(start)
	return res
}

func (i *Invoker) run(ctx context.Context, conversationID, text string, timeout time.Duration, logger *slog.Logger) Result {
	// exec.Command, not CommandContext: termination is managed below.
	cmd := exec.Command(i.opts.Command, i.Argv(conversationID, text)...)
	cmd.Dir = i.opts.WorkDir
	cmd.Env = i.environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = pipeDrainDelay

	stdout := newCappedBuffer(i.opts.MaxOutputBytes)
	stderr := newCappedBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("spawning agent", "command", i.opts.Command, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		logger.Error("failed to spawn agent", "error", err)
		return Failure(StatusSpawnFailed, err.Error())
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	select {
	case err := <-waitErr:
		return i.exited(err, stdout, stderr, logger)

	case <-timeoutTimer.C:
		logger.Warn("agent timed out, sending SIGTERM", "timeout", timeout)
		i.terminate(cmd, waitErr, logger)
		res := Failure(StatusTimedOut, ReasonTimeout)
		res.Stderr = stderr.String()
		return res

	case <-ctx.Done():
		logger.Warn("invocation cancelled, sending SIGTERM")
		i.terminate(cmd, waitErr, logger)
		res := Cancelled()
		res.Stderr = stderr.String()
		return res
	}
}

func (i *Invoker) exited(err error, stdout, stderr *cappedBuffer, logger *slog.Logger) Result {
	stderrStr := stderr.String()
	if stderr.Truncated() {
		logger.Debug("agent stderr truncated", "limit", maxStderrBytes)
	}
	if stdout.Truncated() {
		logger.Warn("agent stdout truncated", "limit", i.opts.MaxOutputBytes)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		logger.Warn("agent exited with non-zero status", "exit_code", exitErr.ExitCode())
		res := Failure(StatusFailed, failureReason(stderrStr))
		res.ExitCode = exitErr.ExitCode()
		res.Stderr = stderrStr
		return res
	case errors.Is(err, exec.ErrWaitDelay):
		// Clean exit, but a stray grandchild still held the output pipes.
		logger.Warn("agent left output pipes open after exit")
	default:
		logger.Error("failed waiting for agent", "error", err)
		res := Failure(StatusFailed, failureReason(stderrStr))
		res.Stderr = stderrStr
		return res
	}

	reply := strings.TrimSpace(stdout.String())
	if reply == "" {
		reply = i.opts.EmptyReply
	}
	res := Success(reply)
	res.Stderr = stderrStr
	return res
}

// terminate sends SIGTERM to the agent's process group, escalates to SIGKILL
// after the grace period and always waits for the process to be reaped.
func (i *Invoker) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	signalGroup(cmd, syscall.SIGTERM, logger)

	grace := time.NewTimer(i.opts.KillGrace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("agent exited after SIGTERM")
	case <-grace.C:
		logger.Warn("agent did not exit after SIGTERM, sending SIGKILL")
		signalGroup(cmd, syscall.SIGKILL, logger)
		<-waitErr
	}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		// Group already gone or never formed; fall back to the direct child.
		if err := cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Error("failed to signal agent", "signal", sig.String(), "error", err)
		}
	}
}

func (i *Invoker) environ() []string {
	env := os.Environ()
	for k, v := range i.opts.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func failureReason(stderr string) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	return ReasonFailed
}
