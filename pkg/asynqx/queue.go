package asynqx

// Queue names by priority band. Asynq orders delivery by weighted queues
// rather than a per-message priority byte, so the numeric message priority is
// mapped onto a band here and carried verbatim inside the payload.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

func QueueWeights() map[string]int {
	return map[string]int{
		QueueCritical: 9,
		QueueDefault:  5,
		QueueLow:      1,
	}
}

// QueueForPriority maps an effective message priority to the queue it is
// enqueued on: >=7 critical, >=4 default, otherwise low.
func QueueForPriority(priority int) string {
	switch {
	case priority >= 7:
		return QueueCritical
	case priority >= 4:
		return QueueDefault
	default:
		return QueueLow
	}
}
