package scheduler

import (
	"fmt"
	"time"
)

// Stats are the rolling counters of a Controller. They are zeroed by Reset and
// by the lazy reset at the start of the next window.
type Stats struct {
	TotalStarted   int64     `json:"total_started"`
	TotalCompleted int64     `json:"total_completed"`
	MaxActive      int64     `json:"max_active"`
	Errors         int64     `json:"errors"`
	Successes      int64     `json:"successes"`
	LastReset      time.Time `json:"last_reset"`
	LastResetTime  int64     `json:"last_reset_time"`
}

// Snapshot is Stats plus metrics derived at call time.
type Snapshot struct {
	Stats
	Active        int     `json:"active"`
	Queued        int     `json:"queued"`
	MaxConcurrent int     `json:"max_concurrent"`
	// Utilization counts every held slot, including checks from before a reset.
	Utilization float64 `json:"utilization"`
	// AvgDuration covers only the tasks still tracked in the active set.
	AvgDuration time.Duration `json:"avg_duration"`
	SuccessRate string        `json:"success_rate"`
}

// Stats returns a copy of the counters with derived metrics.
func (c *Controller[T]) Stats() Snapshot {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.opts.Now()

	snap := Snapshot{
		Stats:         c.stats,
		Active:        len(c.active),
		Queued:        len(c.queue),
		MaxConcurrent: c.opts.MaxConcurrent,
		Utilization:   float64(c.occupied) / float64(c.opts.MaxConcurrent),
		SuccessRate:   "0%",
	}

	var total time.Duration
	for _, task := range c.active {
		end := now
		if !task.EndTime.IsZero() {
			end = task.EndTime
		}
		total += end.Sub(task.StartTime)
	}
	if len(c.active) > 0 {
		snap.AvgDuration = total / time.Duration(len(c.active))
	}

	if c.stats.TotalStarted > 0 {
		rate := float64(c.stats.Successes) / float64(c.stats.TotalStarted) * 100
		snap.SuccessRate = fmt.Sprintf("%.2f%%", rate)
	}

	return snap
}

// ActiveTasks returns copies of the tasks currently occupying the active set.
func (c *Controller[T]) ActiveTasks() []Task {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	tasks := make([]Task, 0, len(c.active))
	for _, task := range c.active {
		tasks = append(tasks, *task)
	}

	return tasks
}
