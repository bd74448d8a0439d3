package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/agentbridge/internal/config"
	"github.com/mattjoyce/agentbridge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

// createTestAgent writes an executable shell script standing in for the agent.
func createTestAgent(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\n"+body+"\n"), 0755))
	return path
}

func newTestInvoker(command string) *Invoker {
	return New(Options{Command: command, KillGrace: 100 * time.Millisecond})
}

func TestInvokeSuccessTrimsStdout(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `printf '  hi there  \n\n'`)

	res := newTestInvoker(agent).Invoke(context.Background(), "111", "hello", 5*time.Second)

	require.True(t, res.OK(), "result: %+v", res)
	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Equal(t, "hi there", res.Text)
	assert.Empty(t, res.Reason)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestInvokePassesConversationAndTextAsDiscreteArgs(t *testing.T) {
	t.Parallel()
	capture := filepath.Join(t.TempDir(), "argv.txt")
	agent := createTestAgent(t, `printf '%s\n' "$#" "$@" > "`+capture+`"; echo ok`)

	text := `hi; echo pwned $(whoami) "quoted" 'single'`
	res := newTestInvoker(agent).Invoke(context.Background(), "111@s.whatsapp.net", text, 5*time.Second)
	require.True(t, res.OK(), "result: %+v", res)

	data, err := os.ReadFile(capture)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "2", lines[0])
	assert.Equal(t, "111@s.whatsapp.net", lines[1])
	assert.Equal(t, text, lines[2])
}

func TestInvokePrependsConfiguredArgs(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `echo "$1|$2|$3"`)
	inv := New(Options{Command: agent, Args: []string{"agent_cli.py"}, KillGrace: 100 * time.Millisecond})

	assert.Equal(t, []string{"agent_cli.py", "222", "a"}, inv.Argv("222", "a"))

	res := inv.Invoke(context.Background(), "222", "a", 5*time.Second)
	require.True(t, res.OK())
	assert.Equal(t, "agent_cli.py|222|a", res.Text)
}

func TestInvokeEmptyOutputUsesPlaceholder(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"silent":     `exit 0`,
		"whitespace": `printf '  \n\t \n'`,
	} {
		t.Run(name, func(t *testing.T) {
			agent := createTestAgent(t, body)
			res := newTestInvoker(agent).Invoke(context.Background(), "111", "x", 5*time.Second)
			require.True(t, res.OK())
			assert.Equal(t, config.DefaultEmpty, res.Text)
		})
	}
}

func TestInvokeCustomPlaceholder(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `exit 0`)
	inv := New(Options{Command: agent, EmptyReply: "(no answer)"})

	res := inv.Invoke(context.Background(), "111", "x", 5*time.Second)
	assert.Equal(t, "(no answer)", res.Text)
}

func TestInvokeNonZeroExitCarriesStderr(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `echo partial; echo boom >&2; exit 1`)

	res := newTestInvoker(agent).Invoke(context.Background(), "111", "x", 5*time.Second)

	assert.False(t, res.OK())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Reason)
	assert.Equal(t, 1, res.ExitCode)
	assert.Empty(t, res.Text)
}

func TestInvokeNonZeroExitWithoutStderr(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `exit 3`)

	res := newTestInvoker(agent).Invoke(context.Background(), "111", "x", 5*time.Second)

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, ReasonFailed, res.Reason)
	assert.Equal(t, 3, res.ExitCode)
}

func TestInvokeSuccessKeepsStderrForDiagnostics(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `echo warning >&2; echo answer`)

	res := newTestInvoker(agent).Invoke(context.Background(), "111", "x", 5*time.Second)

	require.True(t, res.OK())
	assert.Equal(t, "answer", res.Text)
	assert.Contains(t, res.Stderr, "warning")
}

func TestInvokeTimeout(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `exec sleep 10`)

	start := time.Now()
	res := newTestInvoker(agent).Invoke(context.Background(), "111", "x", 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestInvokeTimeoutEscalatesToSIGKILL(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, "trap '' TERM\nsleep 10\necho late")

	start := time.Now()
	res := newTestInvoker(agent).Invoke(context.Background(), "111", "x", 200*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Equal(t, ReasonTimeout, res.Reason)
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestInvokeTimeoutKillsGrandchildren(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, "sleep 10 &\nwait")

	start := time.Now()
	res := newTestInvoker(agent).Invoke(context.Background(), "111", "x", 200*time.Millisecond)

	assert.Equal(t, StatusTimedOut, res.Status)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestInvokeSpawnFailures(t *testing.T) {
	t.Parallel()

	t.Run("missing executable", func(t *testing.T) {
		res := newTestInvoker(filepath.Join(t.TempDir(), "nope")).Invoke(context.Background(), "111", "x", time.Second)
		assert.Equal(t, StatusSpawnFailed, res.Status)
		assert.NotEmpty(t, res.Reason)
	})

	t.Run("not executable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "agent.sh")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/bash\necho hi\n"), 0644))
		res := newTestInvoker(path).Invoke(context.Background(), "111", "x", time.Second)
		assert.Equal(t, StatusSpawnFailed, res.Status)
		assert.Contains(t, res.Reason, "permission denied")
	})
}

func TestInvokeCancelledContext(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `exec sleep 10`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := newTestInvoker(agent).Invoke(ctx, "111", "x", 30*time.Second)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, ReasonCancelled, res.Reason)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestInvokeCapsStdout(t *testing.T) {
	t.Parallel()
	agent := createTestAgent(t, `printf 'abcdefghijklmnop'`)
	inv := New(Options{Command: agent, MaxOutputBytes: 10})

	res := inv.Invoke(context.Background(), "111", "x", 5*time.Second)

	require.True(t, res.OK())
	assert.Equal(t, "abcdefghij", res.Text)
}

func TestInvokeWorkDirAndEnv(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	agent := createTestAgent(t, `echo "$(pwd)|$AGENT_MODE"`)
	inv := New(Options{Command: agent, WorkDir: dir, Env: map[string]string{"AGENT_MODE": "test"}})

	res := inv.Invoke(context.Background(), "111", "x", 5*time.Second)

	require.True(t, res.OK())
	wantDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, wantDir+"|test", res.Text)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Agent.Command = "/bin/true"
	cfg.Agent.Args = nil
	cfg.Replies.Empty = "nothing"

	inv := NewFromConfig(cfg)
	assert.Equal(t, []string{"c", "t"}, inv.Argv("c", "t"))

	res := inv.Invoke(context.Background(), "c", "t", 5*time.Second)
	require.True(t, res.OK())
	assert.Equal(t, "nothing", res.Text)
}
