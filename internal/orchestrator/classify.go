package orchestrator

import (
	"github.com/matchvault/matchvault/internal/gc"
	"github.com/matchvault/matchvault/internal/store"
)

// classify maps a task error to its terminal or requeue status.
// Attempts is the post-claim attempt count for the failing task.
func classify(err error, attempts, maxRetries int) store.TaskStatus {
	switch gc.Kind(err) {
	case gc.KindSessionNotReady:
		// The session dropped under us; the task itself is fine and
		// goes back to the queue without burning more retries.
		return store.TaskPending
	case gc.KindTimeout:
		// A timeout recurring on a previously attempted task is the
		// signature of an invalid or unreachable account.
		if attempts >= 2 {
			return store.TaskFailed
		}
		return store.TaskRateLimited
	case gc.KindRateLimited:
		return store.TaskRateLimited
	default:
		if attempts >= maxRetries {
			return store.TaskFailed
		}
		return store.TaskPending
	}
}
