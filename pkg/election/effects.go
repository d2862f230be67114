package election

import (
	"sync"

	"go.uber.org/zap"

	"chieftain/pkg/metrics"
)

// exclusiveTask is a unit of leadership-scoped work: setup runs when this
// peer becomes chief, cleanup runs when it stops being chief. Registration
// outlives a single leadership cycle; re-acquiring the chief role re-runs
// every setup.
type exclusiveTask struct {
	setup   func()
	cleanup func() // optional
}

// effectRegistry owns the ordered list of exclusive tasks and the cleanups
// currently owed. Setups and cleanups are panic-guarded individually: one
// failing task never blocks its siblings. A setup that panics is treated as
// never having acquired anything, so its cleanup is skipped for that cycle.
type effectRegistry struct {
	mu     sync.Mutex
	tasks  []exclusiveTask
	active []func()
}

// register appends a task and returns its index.
func (r *effectRegistry) register(setup, cleanup func()) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, exclusiveTask{setup: setup, cleanup: cleanup})
	return len(r.tasks) - 1
}

// activateAll runs every registered setup in registration order, collecting
// cleanups for the ones that succeed. Called on every chief acquisition.
func (r *effectRegistry) activateAll(log *zap.Logger) {
	r.mu.Lock()
	tasks := append([]exclusiveTask(nil), r.tasks...)
	r.mu.Unlock()

	for i := range tasks {
		r.activateOne(log, tasks[i])
	}
}

// activateOne runs a single task's setup, used both by activateAll and for
// tasks registered while already chief.
func (r *effectRegistry) activateOne(log *zap.Logger, task exclusiveTask) {
	ok := true
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				ok = false
				metrics.CallbackPanics.WithLabelValues("task-setup").Inc()
				log.Error("exclusive task setup panicked", zap.Any("panic", rec))
			}
		}()
		task.setup()
	}()

	if ok && task.cleanup != nil {
		r.mu.Lock()
		r.active = append(r.active, task.cleanup)
		r.mu.Unlock()
	}
}

// activateIndex activates the task at the given index.
func (r *effectRegistry) activateIndex(log *zap.Logger, idx int) {
	r.mu.Lock()
	if idx < 0 || idx >= len(r.tasks) {
		r.mu.Unlock()
		return
	}
	task := r.tasks[idx]
	r.mu.Unlock()
	r.activateOne(log, task)
}

// deactivateAll runs the owed cleanups in registration order and clears
// them. Registered tasks stay for the next leadership cycle. Safe to call
// when nothing is active.
func (r *effectRegistry) deactivateAll(log *zap.Logger) {
	r.mu.Lock()
	cleanups := r.active
	r.active = nil
	r.mu.Unlock()

	for _, cleanup := range cleanups {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					metrics.CallbackPanics.WithLabelValues("task-cleanup").Inc()
					log.Error("exclusive task cleanup panicked", zap.Any("panic", rec))
				}
			}()
			cleanup()
		}()
	}
}
