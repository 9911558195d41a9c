package store

import "strings"

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusPartial   = "partial"
	JobStatusFailed    = "failed"
)

// JobStatusFromEvent maps a job event to the status the job moves to.
// Events that do not change the status report false.
func JobStatusFromEvent(event JobEvent) (string, bool) {
	switch normalizeEventType(event.Type) {
	case "job.started":
		return JobStatusRunning, true
	case "job.completed":
		if countOf(event.Payload, "failures") > 0 {
			return JobStatusPartial, true
		}
		return JobStatusCompleted, true
	case "job.failed":
		return JobStatusFailed, true
	}
	return "", false
}

func normalizeEventType(value string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", ".")
}

// countOf reads a count or a list length from a decoded JSON payload.
func countOf(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch value := payload[key].(type) {
	case []any:
		return len(value)
	case []string:
		return len(value)
	case map[string]any:
		return len(value)
	case map[string]string:
		return len(value)
	case float64:
		return int(value)
	case int:
		return value
	case int64:
		return int(value)
	}
	return 0
}
