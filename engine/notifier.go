package engine

import (
	"sync/atomic"
	"time"

	"github.com/vsariola/soundloop"
)

type (
	// Status is a snapshot of the loop for displays. It is polled, never
	// pushed into the period path.
	Status struct {
		Tic                uint64
		LastSync           uint64
		NoteOffset         int
		NoteOffsetAbsolute int
		Playing            bool
		Units              [NumKinds]int
		Xruns              int64
		// Peak is the absolute peak of the last transferred soundcard period.
		Peak float32
	}

	// Notifier publishes a Status on Broker.ToGUI at a fixed rate. Slow
	// readers miss snapshots; the notifier never blocks on them.
	Notifier struct {
		broker   *Broker
		loop     *AudioLoop
		interval time.Duration
		running  atomic.Bool
		last     atomic.Pointer[Status]
	}
)

func NewNotifier(b *Broker, loop *AudioLoop, rate float64) *Notifier {
	if rate <= 0 {
		rate = soundloop.DefaultNotifyRate
	}
	return &Notifier{broker: b, loop: loop, interval: time.Duration(float64(time.Second) / rate)}
}

func (n *Notifier) Running() bool { return n.running.Load() }

// Start launches the goroutine. The first snapshot closes
// Broker.StartedNotifier.
func (n *Notifier) Start() {
	if !n.running.CompareAndSwap(false, true) {
		return
	}
	go n.run()
}

func (n *Notifier) run() {
	defer close(n.broker.FinishedNotifier)
	n.publish()
	close(n.broker.StartedNotifier)
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.publish()
		case <-n.broker.CloseNotifier:
			n.running.Store(false)
			return
		}
	}
}

func (n *Notifier) publish() {
	s := n.loop.snapshot()
	s.Peak = n.peak()
	n.last.Store(&s)
	TrySend(n.broker.ToGUI, s)
}

// peak reads the level the soundcard measured for its last transferred
// period, if it meters at all.
func (n *Notifier) peak() float32 {
	if m, ok := n.loop.soundcard.(interface{ Peak() float32 }); ok {
		return m.Peak()
	}
	return 0
}

// Last returns the most recently published snapshot.
func (n *Notifier) Last() (Status, bool) {
	s := n.last.Load()
	if s == nil {
		return Status{}, false
	}
	return *s, true
}

// Stop asks the goroutine to exit and waits for it.
func (n *Notifier) Stop(timeout time.Duration) bool {
	if !n.running.Load() {
		return true
	}
	TrySend(n.broker.CloseNotifier, struct{}{})
	return waitClosed(n.broker.FinishedNotifier, timeout)
}
