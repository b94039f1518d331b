package osutil

import (
	"context"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ExecutableName appends the platform's executable suffix to name.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		return name + ".exe"
	}
	return name
}

// FindProcesses returns the pids of every running process whose name is
// exactly `name`. Processes that vanish or deny access while being listed are
// skipped.
func FindProcesses(ctx context.Context, name string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	var pids []int32
	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if pname == name {
			pids = append(pids, p.Pid)
		}
	}
	return pids, nil
}

// ProcessRunning reports whether at least one process named `name` exists.
func ProcessRunning(ctx context.Context, name string) (bool, error) {
	pids, err := FindProcesses(ctx, name)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}
