package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunSuccess(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), "echo -n hello", t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hello", res.Stdout)
	require.False(t, res.TimedOut)
}

func TestRunNonZeroExit(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), "exit 7", t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
	require.False(t, res.TimedOut)
}

func TestRunCapturesStderr(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), "echo -n oops 1>&2", t.TempDir(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "oops", res.Stderr)
}

func TestRunTimeoutKillsGroup(t *testing.T) {
	r := New()
	res, err := r.Run(context.Background(), "sleep 5 & wait", t.TempDir(), 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, TimeoutOutput, res.Stdout)
}

func TestRunDirIsRespected(t *testing.T) {
	dir := t.TempDir()
	r := New()
	res, err := r.Run(context.Background(), "pwd", dir, 5*time.Second)
	require.NoError(t, err)
	require.Contains(t, res.Stdout, dir)
}
