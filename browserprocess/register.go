package browserprocess

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/torwell84/torwell-verify/log"
)

var (
	processRegister   = map[string]map[int]struct{}{} //nolint:gochecknoglobals
	processRegisterMu = sync.Mutex{}                  //nolint:gochecknoglobals
)

// Register records pid under the run ID stored in ctx.
func Register(ctx context.Context, logger *log.Logger, pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	rID := GetRunID(ctx)
	if processRegister[rID] == nil {
		processRegister[rID] = map[int]struct{}{}
	}
	processRegister[rID][pid] = struct{}{}

	logger.Debugf("BrowserProcess:register", "registered browser process pid %d run %q", pid, rID)
}

// Unregister forgets pid once its process has been shut down cleanly.
func Unregister(ctx context.Context, pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	rID := GetRunID(ctx)
	delete(processRegister[rID], pid)
	if len(processRegister[rID]) == 0 {
		delete(processRegister, rID)
	}
}

// Registered returns the registered pids for the run ID in ctx, sorted.
func Registered(ctx context.Context) []int {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	pids := make([]int, 0, len(processRegister[GetRunID(ctx)]))
	for pid := range processRegister[GetRunID(ctx)] {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	return pids
}

// ForceProcessShutdown kills every registered browser of the run ID in ctx,
// or of every run when ctx carries none. It should be called when the
// harness is interrupted or dies from an internal error.
func ForceProcessShutdown(ctx context.Context) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	rID := GetRunID(ctx)
	for k, pids := range processRegister {
		if rID != "" && k != rID {
			continue
		}
		for pid := range pids {
			Kill(pid)
		}
		delete(processRegister, k)
	}
}

// Kill will look for and kill the process with the given pid. It is a
// variable so tests can observe kills without signalling real processes.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}
