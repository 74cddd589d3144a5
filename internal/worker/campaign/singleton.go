package campaign

import (
	"context"
	"sync"
)

// Process-wide worker handle. The API server starts the loop in-process
// and exposes its state, so both share one instance.
var (
	globalMu     sync.Mutex
	globalWorker *Worker
)

// StartGlobal installs w as the process worker (first caller wins) and
// starts it. Later calls reuse the installed instance.
func StartGlobal(w *Worker) *Worker {
	globalMu.Lock()
	if globalWorker == nil {
		globalWorker = w
	}
	w = globalWorker
	globalMu.Unlock()

	w.Start()
	return w
}

// StopGlobal stops the process worker if one was started.
func StopGlobal(ctx context.Context) error {
	globalMu.Lock()
	w := globalWorker
	globalMu.Unlock()

	if w == nil {
		return nil
	}
	return w.Stop(ctx)
}

// Global returns the process worker, or nil before StartGlobal.
func Global() *Worker {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalWorker
}
