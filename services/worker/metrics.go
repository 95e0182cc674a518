package worker

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksSucceeded = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_tasks_succeeded_total"})
	tasksFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_tasks_failed_total"})
	tasksDuplicate = prometheus.NewCounter(prometheus.CounterOpts{Name: "generation_tasks_duplicate_total"})
)

func init() {
	prometheus.MustRegister(tasksSucceeded, tasksFailed, tasksDuplicate)
}
