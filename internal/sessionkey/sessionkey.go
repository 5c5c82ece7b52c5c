// Package sessionkey formats the stable on-disk naming key for a task's
// session: "agency-{task_id}-{slug}", used for the per-session rolling
// log file grove keeps next to its in-memory scrollback.
package sessionkey

import "fmt"

// Key returns the canonical session key for a task.
func Key(taskID uint32, slug string) string {
	return fmt.Sprintf("agency-%d-%s", taskID, slug)
}

// LogFileName returns the rolling log file name for a task's session.
func LogFileName(taskID uint32, slug string) string {
	return Key(taskID, slug) + ".log"
}
