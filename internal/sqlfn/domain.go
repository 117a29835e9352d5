// Package sqlfn installs the manager's helper functions into the SQL
// engine's expression evaluator. The functions are invoked by the engine
// itself while it evaluates query text; nothing in this layer calls them
// directly. Task-domain semantics stay behind the TaskDomain capability so
// the registry is testable without a live task store.
package sqlfn

// TaskDomain is the slice of the task manager the in-engine functions need:
// trend and threat computation, last-report lookup, and run status naming.
// Implementations live outside this layer.
type TaskDomain interface {
	// Trend returns the task's trend keyword ("up", "down", "more",
	// "less", "same") honoring result overrides when requested.
	Trend(taskID int64, overrides bool) (string, error)

	// ThreatLevel returns the task's computed threat level. ok is false
	// when no threat has been computed for the task.
	ThreatLevel(taskID int64, overrides bool) (level string, ok bool, err error)

	// LastReport returns the row id of the task's most recent report. ok
	// is false when the task has never produced a report.
	LastReport(taskID int64) (reportID int64, ok bool, err error)

	// RunStatusName maps a numeric run status to its display name.
	RunStatusName(status int64) string
}
