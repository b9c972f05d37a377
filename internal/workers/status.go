package workers

import "workmgr/internal/work"

// StatusText is the one-line operator status for a state.
func StatusText(s work.State) string {
	switch s {
	case work.Enqueued:
		return "Task enqueued."
	case work.Blocked:
		return "Task blocked."
	case work.Running:
		return "Task running."
	case work.Succeeded:
		return "Task successful."
	case work.Failed:
		return "Task Failed."
	case work.Cancelled:
		return "Task cancelled."
	default:
		return "Task state " + s.String() + "."
	}
}
