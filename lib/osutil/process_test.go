package osutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecutableName(t *testing.T) {
	if runtime.GOOS == "windows" {
		require.Equal(t, "geckodriver.exe", ExecutableName("geckodriver"))
		require.Equal(t, "geckodriver.exe", ExecutableName("geckodriver.exe"))
		return
	}
	require.Equal(t, "geckodriver", ExecutableName("geckodriver"))
}

func TestFindsOwnProcess(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)
	name := filepath.Base(exe)
	// process names are truncated to 15 characters on linux
	if len(name) > 15 {
		t.Skip("test binary name is truncated by the kernel")
	}

	pids, err := FindProcesses(context.Background(), name)
	require.NoError(t, err)
	require.Contains(t, pids, int32(os.Getpid()))
}

func TestProcessRunningMissing(t *testing.T) {
	running, err := ProcessRunning(context.Background(), "godric-no-such-driver")
	require.NoError(t, err)
	require.False(t, running)
}
