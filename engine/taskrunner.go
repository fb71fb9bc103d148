package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsariola/soundloop"
)

// TaskRunner executes maintenance tasks, e.g. the tic and buffer rotation of
// a soundcard, in order on a goroutine of its own. While it is not running,
// Launch executes the task immediately on the calling goroutine. A runner is
// started at most once.
type TaskRunner struct {
	broker  *Broker
	started atomic.Bool
	running atomic.Bool
	// senders hold the read lock while queueing; the runner takes the write
	// lock before its last drain, so no task is queued after it exits
	mu sync.RWMutex
}

func NewTaskRunner(b *Broker) *TaskRunner {
	return &TaskRunner{broker: b}
}

func (r *TaskRunner) Running() bool { return r.running.Load() }

// Start launches the goroutine. The first iteration closes
// Broker.StartedTasks.
func (r *TaskRunner) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	r.running.Store(true)
	go r.run()
}

func (r *TaskRunner) run() {
	defer close(r.broker.FinishedTasks)
	close(r.broker.StartedTasks)
	for {
		select {
		case task := <-r.broker.ToTasks:
			task()
		case <-r.broker.CloseTasks:
			r.running.Store(false)
			r.drain()
			return
		}
	}
}

// drain keeps serving the queue until every sender that saw the runner
// running has queued its task, then runs what is left. Senders blocked on a
// full queue hold the read lock, so the queue is served while waiting.
func (r *TaskRunner) drain() {
	locked := make(chan struct{})
	go func() {
		r.mu.Lock()
		close(locked)
	}()
	for {
		select {
		case task := <-r.broker.ToTasks:
			task()
		case <-locked:
			defer r.mu.Unlock()
			for {
				select {
				case task := <-r.broker.ToTasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Launch queues task, blocking while the queue is full so tasks always run
// in the order they were launched. If the runner is not running, the task
// runs inline once the tasks queued before have finished.
func (r *TaskRunner) Launch(task func()) {
	r.mu.RLock()
	if r.running.Load() {
		r.broker.ToTasks <- task
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()
	if r.started.Load() {
		waitClosed(r.broker.FinishedTasks, soundloop.DefaultWorkerTimeout)
	}
	task()
}

// Flush blocks until every task queued before the call has run, or the
// timeout elapses.
func (r *TaskRunner) Flush(timeout time.Duration) bool {
	if !r.running.Load() {
		return true
	}
	done := make(chan struct{})
	r.Launch(func() { close(done) })
	return waitClosed(done, timeout)
}

// Stop asks the goroutine to exit and waits for it.
func (r *TaskRunner) Stop(timeout time.Duration) bool {
	if !r.started.Load() {
		return true
	}
	TrySend(r.broker.CloseTasks, struct{}{})
	return waitClosed(r.broker.FinishedTasks, timeout)
}
