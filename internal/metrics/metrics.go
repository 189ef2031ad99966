// ============================================================================
// Workhorse Metrics - Prometheus Instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Function: Count task and handler lifecycle events and expose queue depth
//
// Metric groups:
//
//   1. Task counters (labelled by capability):
//      - workhorse_tasks_enqueued_total
//      - workhorse_tasks_claimed_total
//      - workhorse_tasks_completed_total  (finished, success or not)
//      - workhorse_tasks_failed_total
//      - workhorse_tasks_dropped_total    (unregistered capability)
//
//   2. Handler lifecycle (labelled by capability):
//      - workhorse_handler_loads_total
//      - workhorse_handler_unloads_total
//      - workhorse_handler_load_failures_total
//      - workhorse_handler_load_seconds
//
//   3. Latency:
//      - workhorse_task_wait_seconds      enqueue -> claim
//      - workhorse_task_duration_seconds  claim -> finish
//
//   4. Gauges, refreshed by the scheduler's status loop:
//      - workhorse_tasks_pending{capability}
//      - workhorse_tasks_in_flight
//      - workhorse_workers_idle
//
// Example queries:
//
//   # switch rate per capability
//   rate(workhorse_handler_loads_total[5m])
//
//   # backlog
//   sum(workhorse_tasks_pending) + workhorse_tasks_in_flight
//
// Collector implements queue.Observer and worker.Observer.
//
// ============================================================================

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "workhorse"

// Collector holds every workhorse metric.
type Collector struct {
	tasksEnqueued  *prometheus.CounterVec
	tasksClaimed   *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	tasksFailed    *prometheus.CounterVec
	tasksDropped   *prometheus.CounterVec

	handlerLoads        *prometheus.CounterVec
	handlerUnloads      *prometheus.CounterVec
	handlerLoadFailures *prometheus.CounterVec
	handlerLoadTime     *prometheus.HistogramVec

	taskWait     *prometheus.HistogramVec
	taskDuration *prometheus.HistogramVec

	tasksPending  *prometheus.GaugeVec
	tasksInFlight prometheus.Gauge
	workersIdle   prometheus.Gauge
}

func counterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, []string{"capability"})
}

func histogramVec(name, help string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, []string{"capability"})
}

// NewCollector creates the metrics and registers them with reg.
// A nil reg means prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		tasksEnqueued:  counterVec("tasks_enqueued_total", "Total number of tasks added to the queue"),
		tasksClaimed:   counterVec("tasks_claimed_total", "Total number of tasks claimed by workers"),
		tasksCompleted: counterVec("tasks_completed_total", "Total number of tasks finished, including failures"),
		tasksFailed:    counterVec("tasks_failed_total", "Total number of tasks whose body returned an error or panicked"),
		tasksDropped:   counterVec("tasks_dropped_total", "Total number of tasks rejected for an unregistered capability"),

		handlerLoads:        counterVec("handler_loads_total", "Total number of successful handler loads"),
		handlerUnloads:      counterVec("handler_unloads_total", "Total number of handler unloads"),
		handlerLoadFailures: counterVec("handler_load_failures_total", "Total number of failed handler loads"),
		handlerLoadTime:     histogramVec("handler_load_seconds", "Time spent loading a handler in seconds"),

		taskWait:     histogramVec("task_wait_seconds", "Time a task spent pending before being claimed"),
		taskDuration: histogramVec("task_duration_seconds", "Time between claiming and finishing a task"),

		tasksPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_pending",
			Help:      "Current number of pending tasks",
		}, []string{"capability"}),
		tasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Current number of claimed, unfinished tasks",
		}),
		workersIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_idle",
			Help:      "Current number of workers outside a task body",
		}),
	}

	reg.MustRegister(
		c.tasksEnqueued, c.tasksClaimed, c.tasksCompleted, c.tasksFailed, c.tasksDropped,
		c.handlerLoads, c.handlerUnloads, c.handlerLoadFailures, c.handlerLoadTime,
		c.taskWait, c.taskDuration,
		c.tasksPending, c.tasksInFlight, c.workersIdle,
	)
	return c
}

// TaskEnqueued records AddTask.
func (c *Collector) TaskEnqueued(capability string) {
	c.tasksEnqueued.WithLabelValues(capability).Inc()
}

// TaskDropped records a task rejected by AddTask.
func (c *Collector) TaskDropped(capability string) {
	c.tasksDropped.WithLabelValues(capability).Inc()
}

// TaskClaimed records a claim and how long the task waited.
func (c *Collector) TaskClaimed(capability string, waited time.Duration) {
	c.tasksClaimed.WithLabelValues(capability).Inc()
	c.taskWait.WithLabelValues(capability).Observe(waited.Seconds())
}

// TaskFinished records TaskFinished and the time since the claim.
func (c *Collector) TaskFinished(capability string, ran time.Duration) {
	c.tasksCompleted.WithLabelValues(capability).Inc()
	c.taskDuration.WithLabelValues(capability).Observe(ran.Seconds())
}

// TaskFailed records a task body error or panic.
func (c *Collector) TaskFailed(capability string) {
	c.tasksFailed.WithLabelValues(capability).Inc()
}

// HandlerLoaded records a successful Load.
func (c *Collector) HandlerLoaded(capability string, took time.Duration) {
	c.handlerLoads.WithLabelValues(capability).Inc()
	c.handlerLoadTime.WithLabelValues(capability).Observe(took.Seconds())
}

// HandlerUnloaded records an Unload.
func (c *Collector) HandlerUnloaded(capability string) {
	c.handlerUnloads.WithLabelValues(capability).Inc()
}

// LoadFailed records a failed Create or Load.
func (c *Collector) LoadFailed(capability string) {
	c.handlerLoadFailures.WithLabelValues(capability).Inc()
}

// UpdateQueueStats sets the queue depth gauges.
func (c *Collector) UpdateQueueStats(pending map[string]int, inFlight int) {
	for capability, n := range pending {
		c.tasksPending.WithLabelValues(capability).Set(float64(n))
	}
	c.tasksInFlight.Set(float64(inFlight))
}

// SetIdleWorkers sets the idle worker gauge.
func (c *Collector) SetIdleWorkers(n int) {
	c.workersIdle.Set(float64(n))
}
