package lifecycle

import "sync/atomic"

var (
	ready        atomic.Bool
	shuttingDown atomic.Bool
)

// SetReady marks startup complete. Call after the startup cache reset has run.
// Health handler returns 503 with status starting while false.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady returns true once startup has finished.
func IsReady() bool {
	return ready.Load()
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
