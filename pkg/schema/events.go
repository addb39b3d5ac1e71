package schema

// Event types recorded in the append-only run log.
const (
	EventRunStarted   = "run.started"
	EventRunCompleted = "run.completed"
	EventRunFailed    = "run.failed"

	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeFailed    = "node.failed"

	EventSessionEntered = "session.entered"
	EventSessionCleared = "session.cleared"
)
