package engine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vsariola/soundloop"
)

type (
	// Kind tells which list of the audio loop a unit belongs to.
	Kind int

	// Unit is a processor scheduled by the audio loop. It is active for a
	// scope as long as it holds a run id for it; a unit with no run ids left
	// is detached by the loop at the end of the pass.
	Unit struct {
		kind          Kind
		processor     soundloop.Processor
		superThreaded bool

		mu      sync.Mutex
		runs    [soundloop.NumScopes]soundloop.RunID
		remove  bool
		hidden  bool
		workers [soundloop.NumScopes]*Worker
	}
)

const (
	KindRecall Kind = iota
	KindChannel
	KindAudio
	NumKinds
)

func (k Kind) String() string {
	switch k {
	case KindRecall:
		return "recall"
	case KindChannel:
		return "channel"
	case KindAudio:
		return "audio"
	}
	return "unknown"
}

// NewRecall creates a recall unit. Recalls always run on the loop goroutine,
// stage by stage across all recalls.
func NewRecall(p soundloop.Processor) *Unit {
	return &Unit{kind: KindRecall, processor: p}
}

// NewChannel creates a channel unit. A super-threaded channel runs every scope
// on a worker of its own.
func NewChannel(p soundloop.Processor, superThreaded bool) *Unit {
	return &Unit{kind: KindChannel, processor: p, superThreaded: superThreaded}
}

// NewAudio creates an audio unit. A super-threaded audio runs its sequencer
// and notation scopes on workers; playback always runs on the loop goroutine.
func NewAudio(p soundloop.Processor, superThreaded bool) *Unit {
	return &Unit{kind: KindAudio, processor: p, superThreaded: superThreaded}
}

func (u *Unit) Kind() Kind                     { return u.kind }
func (u *Unit) Processor() soundloop.Processor { return u.processor }
func (u *Unit) SuperThreaded() bool            { return u.superThreaded }

// Enable activates the unit for scope with the given run id.
func (u *Unit) Enable(scope soundloop.Scope, run soundloop.RunID) error {
	if scope < 0 || scope >= soundloop.NumScopes {
		return fmt.Errorf("cannot enable scope %d: %w", scope, soundloop.ErrInvalidConfig)
	}
	if run == 0 {
		return fmt.Errorf("cannot enable %v with a zero run id: %w", scope, soundloop.ErrInvalidConfig)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.runs[scope] = run
	return nil
}

// Disable clears the run id of scope; the loop stops the worker of the scope
// after the next sync.
func (u *Unit) Disable(scope soundloop.Scope) {
	if scope < 0 || scope >= soundloop.NumScopes {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.runs[scope] = 0
}

func (u *Unit) RunID(scope soundloop.Scope) soundloop.RunID {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.runs[scope]
}

// Active reports whether any scope still holds a run id.
func (u *Unit) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, r := range u.runs {
		if r != 0 {
			return true
		}
	}
	return false
}

// RequestRemove marks the unit to be detached at the end of the current pass.
func (u *Unit) RequestRemove() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.remove = true
}

func (u *Unit) RemoveRequested() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remove
}

func (u *Unit) cancelRemove() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.remove = false
}

// SetHidden excludes the unit from dispatch without detaching it.
func (u *Unit) SetHidden(hidden bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.hidden = hidden
}

func (u *Unit) Hidden() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hidden
}

// skipped reports whether the dispatcher should leave the unit out this pass.
func (u *Unit) skipped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remove || u.hidden
}

// threaded reports whether scope runs on a worker.
func (u *Unit) threaded(scope soundloop.Scope) bool {
	if !u.superThreaded {
		return false
	}
	switch u.kind {
	case KindChannel:
		return true
	case KindAudio:
		return scope == soundloop.ScopeSequencer || scope == soundloop.ScopeNotation
	}
	return false
}

// worker returns the worker of scope, creating it on first use.
func (u *Unit) worker(scope soundloop.Scope, timeout time.Duration, logger *log.Logger) *Worker {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.workers[scope] == nil {
		name := fmt.Sprintf("%v/%v", u.kind, scope)
		u.workers[scope] = NewWorker(name, func() { u.runStages(scope) }, timeout, logger)
	}
	return u.workers[scope]
}

// Worker returns the worker of scope, or nil if it was never started.
func (u *Unit) Worker(scope soundloop.Scope) *Worker {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.workers[scope]
}

// runStages runs the three stages of scope, if the scope is still active.
func (u *Unit) runStages(scope soundloop.Scope) {
	for stage := soundloop.StagePre; stage < soundloop.NumStages; stage++ {
		u.runStage(stage, scope)
	}
}

func (u *Unit) runStage(stage soundloop.Stage, scope soundloop.Scope) {
	if run := u.RunID(scope); run != 0 {
		u.processor.Process(stage, scope, run)
	}
}

// stopIdleWorkers stops the workers of scopes without a run id and reports
// whether any worker is still running.
func (u *Unit) stopIdleWorkers() bool {
	u.mu.Lock()
	workers := u.workers
	runs := u.runs
	u.mu.Unlock()
	alive := false
	for scope, w := range workers {
		if w == nil {
			continue
		}
		if runs[scope] == 0 {
			w.Stop()
		} else if w.Running() {
			alive = true
		}
	}
	return alive
}

func (u *Unit) stopWorkers() {
	u.mu.Lock()
	workers := u.workers
	u.mu.Unlock()
	for _, w := range workers {
		if w != nil {
			w.Stop()
		}
	}
}

// Idle reports whether none of the unit's workers is running.
func (u *Unit) Idle() bool {
	u.mu.Lock()
	workers := u.workers
	u.mu.Unlock()
	for _, w := range workers {
		if w != nil && w.Running() {
			return false
		}
	}
	return true
}
