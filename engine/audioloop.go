// Package engine implements the audio loop: the scheduler that runs the
// recall, channel and audio units of a session in three stages every period
// and drives the soundcard and sequencer transports.
package engine

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/soundcard"
)

type (
	// AudioLoop is the root of the engine's goroutine tree. Its own goroutine
	// calls Run once per period; the task runner and the notifier are its
	// permanent children and super-threaded units add workers of their own.
	AudioLoop struct {
		soundcard  soundloop.Soundcard
		sequencers []soundloop.Sequencer

		timeout       time.Duration
		notifyRate    float64
		superThreaded bool
		logger        *log.Logger

		mu       sync.Mutex // guards units, playing and emptyLen
		units    [NumKinds][]*Unit
		playing  [NumKinds]bool
		emptyLen [NumKinds]bool // the list was empty at the end of the last pass

		runMu sync.Mutex // serializes Run

		tic      atomic.Uint64
		lastSync atomic.Uint64
		state    atomic.Int32

		// children, valid between Start and Stop
		broker      *Broker
		tasks       *TaskRunner
		notifier    *Notifier
		handshaken  bool
		closeLoop   chan struct{}
		finished    chan struct{}
		running     atomic.Bool
		childrenMu  sync.Mutex
		transportUp bool
	}

	Option func(*AudioLoop)

	// optional capabilities of devices driven by the loop
	timingSetter interface {
		SetTiming(samplerate, bufferSize int) error
	}
	taskLauncherSetter interface {
		SetTaskLauncher(soundcard.TaskLauncher)
	}
	xrunCounter interface {
		Xruns() int64
	}

	// State is the coarse state of the loop.
	State int32
)

const (
	StateIdle State = iota
	StateDispatching
	StateStopping
)

var ErrLoopRunning = errors.New("audio loop already running")

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

func WithLogger(l *log.Logger) Option {
	return func(a *AudioLoop) { a.logger = l }
}

// WithTimeout bounds every wait of the loop on a worker or child goroutine.
func WithTimeout(t time.Duration) Option {
	return func(a *AudioLoop) { a.timeout = t }
}

// WithNotifyRate sets how many status snapshots per second the notifier
// publishes.
func WithNotifyRate(rate float64) Option {
	return func(a *AudioLoop) { a.notifyRate = rate }
}

// WithSuperThreaded sets the default used by NewUnit.
func WithSuperThreaded(enabled bool) Option {
	return func(a *AudioLoop) { a.superThreaded = enabled }
}

// New creates a loop driving sc. If sc accepts a task launcher, its period
// maintenance runs on the loop's task runner while the loop is started.
func New(sc soundloop.Soundcard, options ...Option) *AudioLoop {
	a := &AudioLoop{
		soundcard:     sc,
		timeout:       soundloop.DefaultWorkerTimeout,
		notifyRate:    soundloop.DefaultNotifyRate,
		superThreaded: true,
		logger:        log.Default(),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

// FromConfig creates a loop with the scheduling settings of c.
func FromConfig(sc soundloop.Soundcard, c soundloop.Config, options ...Option) *AudioLoop {
	opts := []Option{
		WithTimeout(c.WorkerTimeout),
		WithNotifyRate(c.NotifyRate),
		WithSuperThreaded(c.SuperThreaded),
	}
	return New(sc, append(opts, options...)...)
}

func (a *AudioLoop) Soundcard() soundloop.Soundcard { return a.soundcard }

// NewUnit creates a unit of kind using the loop's super-threaded default.
func (a *AudioLoop) NewUnit(kind Kind, p soundloop.Processor) *Unit {
	switch kind {
	case KindChannel:
		return NewChannel(p, a.superThreaded)
	case KindAudio:
		return NewAudio(p, a.superThreaded)
	}
	return NewRecall(p)
}

// AddSequencer makes the loop drive s next to the soundcard. A sequencer
// offering SetTiming follows the soundcard presets.
func (a *AudioLoop) AddSequencer(s soundloop.Sequencer) error {
	if t, ok := s.(timingSetter); ok {
		p := a.soundcard.Presets()
		if err := t.SetTiming(p.Samplerate, p.BufferSize); err != nil {
			return fmt.Errorf("cannot add sequencer: %w", err)
		}
	}
	a.runMu.Lock()
	defer a.runMu.Unlock()
	a.sequencers = append(a.sequencers, s)
	return nil
}

func (a *AudioLoop) AddAudio(u *Unit) error      { return a.add(KindAudio, u) }
func (a *AudioLoop) RemoveAudio(u *Unit)         { a.remove(KindAudio, u) }
func (a *AudioLoop) AddChannel(u *Unit) error    { return a.add(KindChannel, u) }
func (a *AudioLoop) RemoveChannel(u *Unit)       { a.remove(KindChannel, u) }
func (a *AudioLoop) AddRecall(u *Unit) error     { return a.add(KindRecall, u) }
func (a *AudioLoop) RemoveRecall(u *Unit)        { a.remove(KindRecall, u) }
func (a *AudioLoop) Playing(kind Kind) bool      { return a.playingKind(kind) }
func (a *AudioLoop) State() State                { return State(a.state.Load()) }
func (a *AudioLoop) Tic() uint64                 { return a.tic.Load() }
func (a *AudioLoop) SetTic(tic uint64)           { a.tic.Store(tic) }
func (a *AudioLoop) LastSync() uint64            { return a.lastSync.Load() }
func (a *AudioLoop) SetLastSync(lastSync uint64) { a.lastSync.Store(lastSync) }

// add prepends u to the list of kind. Adding a unit already in the list only
// cancels a pending removal.
func (a *AudioLoop) add(kind Kind, u *Unit) error {
	if u == nil || u.Kind() != kind {
		return fmt.Errorf("cannot add unit to the %v list: %w", kind, soundloop.ErrInvalidConfig)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	u.cancelRemove()
	if slices.Contains(a.units[kind], u) {
		return nil
	}
	a.units[kind] = slices.Insert(a.units[kind], 0, u)
	return nil
}

// remove flags u for removal; the loop detaches it at the end of the pass.
// Removing a unit that is not in the list does nothing.
func (a *AudioLoop) remove(kind Kind, u *Unit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.Contains(a.units[kind], u) {
		u.RequestRemove()
	}
}

// Drain requests the removal of every unit. The transports stop once the
// lists are empty, so stopping playback never cuts a buffer short.
func (a *AudioLoop) Drain() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, list := range a.units {
		for _, u := range list {
			u.RequestRemove()
		}
	}
}

// Len returns the number of units in the list of kind.
func (a *AudioLoop) Len(kind Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.units[kind])
}

// Units returns a copy of the list of kind in dispatch order.
func (a *AudioLoop) Units(kind Kind) []*Unit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.units[kind])
}

func (a *AudioLoop) playingKind(kind Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playing[kind]
}

func (a *AudioLoop) snapshotList(kind Kind) []*Unit {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.units[kind]) > 0 {
		a.playing[kind] = true
		a.emptyLen[kind] = false
	}
	if !a.playing[kind] {
		return nil
	}
	return slices.Clone(a.units[kind])
}

func (a *AudioLoop) detach(kind Kind, gone []*Unit) {
	if len(gone) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.units[kind] = slices.DeleteFunc(a.units[kind], func(u *Unit) bool { return slices.Contains(gone, u) })
}

// settle clears the playing flag of a list that stayed empty for a full
// pass.
func (a *AudioLoop) settle() (empty bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	empty = true
	for kind := range a.units {
		if len(a.units[kind]) > 0 {
			empty = false
			continue
		}
		if a.emptyLen[kind] {
			a.playing[kind] = false
		}
		a.emptyLen[kind] = true
	}
	return empty
}

// Run executes one period: the recall, channel and audio passes, then the
// transports. It is called by the loop goroutine, or directly when the loop
// is driven by something else, e.g. an offline export.
func (a *AudioLoop) Run() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.State() != StateStopping {
		a.state.Store(int32(StateDispatching))
	}

	a.runRecalls()
	a.runChannels()
	a.runAudio()
	a.lastSync.Store(a.tic.Load())

	if a.settle() {
		a.stopTransports()
		if a.State() == StateDispatching {
			a.state.Store(int32(StateIdle))
		}
	} else {
		a.processTransports()
	}
	a.tic.Add(1)
	a.waitHandshakes()
}

// runRecalls runs the recall list stage by stage: every recall finishes a
// stage before any recall starts the next.
func (a *AudioLoop) runRecalls() {
	list := a.snapshotList(KindRecall)
	if len(list) == 0 {
		return
	}
	for stage := soundloop.StagePre; stage < soundloop.NumStages; stage++ {
		for _, u := range list {
			if u.skipped() {
				continue
			}
			for scope := soundloop.ScopePlayback; scope < soundloop.NumScopes; scope++ {
				u.runStage(stage, scope)
			}
		}
	}
	var gone []*Unit
	for _, u := range list {
		if u.RemoveRequested() || !u.Active() {
			gone = append(gone, u)
		}
	}
	a.detach(KindRecall, gone)
}

func (a *AudioLoop) runChannels() {
	list := a.snapshotList(KindChannel)
	if len(list) == 0 {
		return
	}
	a.dispatch(list)
	a.sync(list)
	a.detach(KindChannel, a.teardown(list))
}

func (a *AudioLoop) runAudio() {
	list := a.snapshotList(KindAudio)
	if len(list) == 0 {
		return
	}
	a.dispatch(list)
	a.sync(list)
	a.detach(KindAudio, a.teardown(list))
}

// dispatch wakes the workers of the threaded scopes and runs the other
// scopes inline.
func (a *AudioLoop) dispatch(list []*Unit) {
	for _, u := range list {
		if u.skipped() {
			continue
		}
		for scope := soundloop.ScopePlayback; scope < soundloop.NumScopes; scope++ {
			if u.RunID(scope) == 0 {
				continue
			}
			if u.threaded(scope) {
				u.worker(scope, a.timeout, a.logger).Wake()
			} else {
				u.runStages(scope)
			}
		}
	}
}

func (a *AudioLoop) sync(list []*Unit) {
	for _, u := range list {
		if !u.superThreaded {
			continue
		}
		for scope := soundloop.ScopePlayback; scope < soundloop.NumScopes; scope++ {
			if w := u.Worker(scope); w != nil {
				w.Sync()
			}
		}
	}
}

// teardown stops the workers of scopes that lost their run id and returns
// the units to detach: those flagged for removal and those with no run id
// left.
func (a *AudioLoop) teardown(list []*Unit) (gone []*Unit) {
	for _, u := range list {
		if u.RemoveRequested() || !u.Active() {
			u.stopWorkers()
			gone = append(gone, u)
			continue
		}
		u.stopIdleWorkers()
	}
	return gone
}

func (a *AudioLoop) transports() []soundloop.Transport {
	ret := []soundloop.Transport{a.soundcard}
	for _, s := range a.sequencers {
		ret = append(ret, s)
	}
	return ret
}

func (a *AudioLoop) processTransports() {
	for _, t := range a.transports() {
		if !t.IsPlaying() {
			if err := t.InitTransport(); err != nil {
				a.logger.Printf("cannot start transport: %v", err)
				continue
			}
		}
		if err := t.ProcessPeriod(); err != nil {
			a.logger.Printf("processing period failed: %v", err)
		}
	}
	a.transportUp = true
}

// stopTransports halts the devices once every list has drained.
func (a *AudioLoop) stopTransports() {
	if !a.transportUp {
		return
	}
	for _, t := range a.transports() {
		t.StopTransport()
	}
	a.transportUp = false
}

// waitHandshakes blocks until the children have completed their first
// iteration. It only waits once per Start.
func (a *AudioLoop) waitHandshakes() {
	a.childrenMu.Lock()
	defer a.childrenMu.Unlock()
	if a.broker == nil || a.handshaken {
		return
	}
	if !waitClosed(a.broker.StartedTasks, a.timeout) {
		a.logger.Printf("task runner: no initial run within %v", a.timeout)
	}
	if !waitClosed(a.broker.StartedNotifier, a.timeout) {
		a.logger.Printf("notifier: no initial run within %v", a.timeout)
	}
	a.handshaken = true
}

// Start launches the loop goroutine and its children. The goroutine is locked
// to its OS thread and calls Run once per buffer period.
func (a *AudioLoop) Start() error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	a.childrenMu.Lock()
	a.broker = NewBroker()
	a.tasks = NewTaskRunner(a.broker)
	a.notifier = NewNotifier(a.broker, a, a.notifyRate)
	a.handshaken = false
	a.closeLoop = make(chan struct{}, 1)
	a.finished = make(chan struct{})
	tasks, notifier := a.tasks, a.notifier
	closeLoop, finished := a.closeLoop, a.finished
	a.childrenMu.Unlock()

	if d, ok := a.soundcard.(taskLauncherSetter); ok {
		d.SetTaskLauncher(tasks)
	}
	tasks.Start()
	notifier.Start()
	a.state.Store(int32(StateIdle))

	period := a.soundcard.Presets().Period()
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(finished)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Run()
			case <-closeLoop:
				return
			}
		}
	}()
	return nil
}

// Stop ends the loop goroutine, stops every worker, drops all units, halts
// the transports and stops the children.
func (a *AudioLoop) Stop() {
	a.state.Store(int32(StateStopping))
	a.childrenMu.Lock()
	closeLoop, finished := a.closeLoop, a.finished
	tasks, notifier := a.tasks, a.notifier
	a.childrenMu.Unlock()
	if a.running.Load() {
		TrySend(closeLoop, struct{}{})
		if !waitClosed(finished, a.timeout) {
			a.logger.Printf("audio loop did not stop within %v", a.timeout)
		}
	}

	a.runMu.Lock()
	a.mu.Lock()
	var all []*Unit
	for kind := range a.units {
		all = append(all, a.units[kind]...)
		a.units[kind] = nil
		a.playing[kind] = false
		a.emptyLen[kind] = false
	}
	a.mu.Unlock()
	for _, u := range all {
		u.stopWorkers()
	}
	for _, t := range a.transports() {
		t.StopTransport()
	}
	a.transportUp = false
	a.runMu.Unlock()

	if a.running.Load() {
		if d, ok := a.soundcard.(taskLauncherSetter); ok {
			d.SetTaskLauncher(nil)
		}
		tasks.Stop(a.timeout)
		notifier.Stop(a.timeout)
		a.childrenMu.Lock()
		a.broker, a.tasks, a.notifier = nil, nil, nil
		a.childrenMu.Unlock()
		a.running.Store(false)
	}
	a.state.Store(int32(StateIdle))
}

// Running reports whether the loop goroutine is started.
func (a *AudioLoop) Running() bool { return a.running.Load() }

// Broker returns the broker of the running loop, or nil.
func (a *AudioLoop) Broker() *Broker {
	a.childrenMu.Lock()
	defer a.childrenMu.Unlock()
	return a.broker
}

// Status returns a live snapshot of the loop. Peak is taken from the last
// snapshot of the notifier.
func (a *AudioLoop) Status() Status {
	s := a.snapshot()
	a.childrenMu.Lock()
	n := a.notifier
	a.childrenMu.Unlock()
	if n != nil {
		if last, ok := n.Last(); ok {
			s.Peak = last.Peak
		}
	}
	return s
}

func (a *AudioLoop) snapshot() Status {
	s := Status{
		Tic:                a.tic.Load(),
		LastSync:           a.lastSync.Load(),
		NoteOffset:         a.soundcard.NoteOffset(),
		NoteOffsetAbsolute: a.soundcard.NoteOffsetAbsolute(),
	}
	a.mu.Lock()
	for kind := range a.units {
		s.Units[kind] = len(a.units[kind])
		s.Playing = s.Playing || a.playing[kind]
	}
	a.mu.Unlock()
	if x, ok := a.soundcard.(xrunCounter); ok {
		s.Xruns = x.Xruns()
	}
	return s
}
