package rediskey

import "fmt"

// Task keys (global convention across worker and api)
const (
	TaskLockPrefix     = "task:lock"
	TaskSeqPrefix      = "task:seq"
	TaskStatusPrefix   = "task:status"
	TaskSnapshotPrefix = "task:snapshot"

	DeadLetterChannel = "task:dead_letter"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildTaskLockKey returns "task:lock:{taskID}"
func BuildTaskLockKey(taskID string) string {
	return NamespaceKey(TaskLockPrefix, taskID)
}

// BuildTaskSeqKey returns "task:seq:{taskID}"
func BuildTaskSeqKey(taskID string) string {
	return NamespaceKey(TaskSeqPrefix, taskID)
}

// BuildTaskStatusChannel returns "task:status:{taskID}"
func BuildTaskStatusChannel(taskID string) string {
	return NamespaceKey(TaskStatusPrefix, taskID)
}

// BuildTaskSnapshotKey returns "task:snapshot:{taskID}"
func BuildTaskSnapshotKey(taskID string) string {
	return NamespaceKey(TaskSnapshotPrefix, taskID)
}
