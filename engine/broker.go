package engine

import "time"

type (
	// Broker connects the audio loop to its permanent children: the task
	// runner and the notifier. Each recipient has its own channel.
	//
	// For closing goroutines, the broker has two channels for each child:
	// CloseXXX and FinishedXXX. CloseXXX has a capacity of 1, so an empty
	// message can always be sent to it without blocking; if it is already
	// full, someone else has requested the closure and dropping the message
	// is fine. FinishedXXX is only ever closed, when the child has cleaned up.
	// Wait for it with a timeout to avoid deadlocks:
	//    select {
	//      case <-FinishedXXX:
	//      case <-time.After(3 * time.Second):
	//    }
	//
	// StartedXXX is closed after the child has completed its first iteration,
	// which is the initial-run handshake the loop waits for.
	Broker struct {
		ToTasks chan func()
		ToGUI   chan Status

		CloseTasks    chan struct{}
		CloseNotifier chan struct{}

		StartedTasks    chan struct{}
		StartedNotifier chan struct{}

		FinishedTasks    chan struct{}
		FinishedNotifier chan struct{}
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToTasks:          make(chan func(), 1024),
		ToGUI:            make(chan Status, 64),
		CloseTasks:       make(chan struct{}, 1),
		CloseNotifier:    make(chan struct{}, 1),
		StartedTasks:     make(chan struct{}),
		StartedNotifier:  make(chan struct{}),
		FinishedTasks:    make(chan struct{}),
		FinishedNotifier: make(chan struct{}),
	}
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}

// waitClosed blocks until c is closed or t has elapsed. It returns false on
// timeout.
func waitClosed(c <-chan struct{}, t time.Duration) bool {
	select {
	case <-c:
		return true
	case <-time.After(t):
		return false
	}
}
