package engine

import (
	"log"
	"sync"
	"time"

	"github.com/vsariola/soundloop"
)

// Worker is the dedicated goroutine of a super-threaded unit for one scope.
// The loop wakes it at the start of a period and syncs with it once all units
// are dispatched. It is started lazily on the first Wake and stopped by the
// loop when the scope it serves has no run left.
type Worker struct {
	name    string
	work    func()
	timeout time.Duration
	logger  *log.Logger

	mu         sync.Mutex
	cond       *soundloop.Cond
	running    bool
	initialRun bool // started but not yet through its first iteration
	wakeup     bool
	woken      bool // woken this period and not yet synced
	done       bool
	stop       bool
	finished   chan struct{}
}

func NewWorker(name string, work func(), timeout time.Duration, logger *log.Logger) *Worker {
	w := &Worker{name: name, work: work, timeout: timeout, logger: logger}
	w.cond = soundloop.NewCond(&w.mu)
	return w
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches the goroutine if it is not running and waits for its
// initial-run handshake.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start()
}

func (w *Worker) start() {
	if w.running {
		return
	}
	w.running = true
	w.initialRun = true
	w.stop = false
	w.wakeup, w.woken, w.done = false, false, false
	w.finished = make(chan struct{})
	go w.loop(w.finished)
	if !w.cond.WaitFor(func() bool { return !w.initialRun }, w.timeout) {
		w.logger.Printf("worker %s: no initial run within %v", w.name, w.timeout)
	}
}

func (w *Worker) loop(finished chan<- struct{}) {
	defer close(finished)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.initialRun = false
	w.cond.Broadcast()
	for {
		w.cond.Wait(func() bool { return w.wakeup || w.stop })
		if w.stop {
			w.running = false
			w.cond.Broadcast()
			return
		}
		w.wakeup = false
		w.mu.Unlock()
		w.work()
		w.mu.Lock()
		w.done = true
		w.cond.Broadcast()
	}
}

// Wake starts the worker if needed and asks it to run one period.
func (w *Worker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start()
	if !w.running || w.initialRun {
		return
	}
	w.done = false
	w.wakeup = true
	w.woken = true
	w.cond.Broadcast()
}

// Sync waits until the worker has finished the period it was woken for. A
// worker that was not woken this period is not waited on. It returns false if
// the wait timed out; the worker is not interrupted in that case.
func (w *Worker) Sync() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.woken || w.initialRun {
		return true
	}
	ok := w.cond.WaitFor(func() bool { return w.done || !w.running }, w.timeout)
	if !ok {
		w.logger.Printf("worker %s: not done within %v", w.name, w.timeout)
		return false
	}
	w.woken = false
	w.done = false
	return true
}

// Stop asks the goroutine to exit and joins it.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.stop = true
	w.cond.Broadcast()
	finished := w.finished
	w.mu.Unlock()
	if !waitClosed(finished, w.timeout) {
		w.logger.Printf("worker %s: did not stop within %v", w.name, w.timeout)
		return
	}
	w.mu.Lock()
	w.woken, w.done = false, false
	w.mu.Unlock()
}
