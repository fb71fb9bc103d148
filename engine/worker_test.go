package engine_test

import (
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vsariola/soundloop/engine"
)

var quietLogger = log.New(io.Discard, "", 0)

func TestWorkerWakeSync(t *testing.T) {
	var runs atomic.Int32
	w := engine.NewWorker("test", func() { runs.Add(1) }, time.Second, quietLogger)
	if w.Running() {
		t.Fatalf("worker running before the first wake")
	}
	for i := 1; i <= 5; i++ {
		w.Wake()
		if !w.Sync() {
			t.Fatalf("period %d: Sync timed out", i)
		}
		if got := runs.Load(); got != int32(i) {
			t.Fatalf("period %d: work ran %v times, expected %v", i, got, i)
		}
	}
	if !w.Running() {
		t.Fatalf("worker not running after wakes")
	}
	w.Stop()
	if w.Running() {
		t.Fatalf("worker running after Stop")
	}
}

func TestWorkerSyncWithoutWake(t *testing.T) {
	w := engine.NewWorker("idle", func() {}, time.Second, quietLogger)
	done := make(chan bool, 1)
	go func() { done <- w.Sync() }()
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("Sync of a worker that was never woken reported a timeout")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Sync waited on a worker that was never woken")
	}
	w.Start()
	if !w.Sync() {
		t.Fatalf("Sync of a started but not woken worker reported a timeout")
	}
	w.Stop()
}

func TestWorkerRestartsAfterStop(t *testing.T) {
	var runs atomic.Int32
	w := engine.NewWorker("restart", func() { runs.Add(1) }, time.Second, quietLogger)
	w.Wake()
	w.Sync()
	w.Stop()
	w.Wake()
	if !w.Sync() {
		t.Fatalf("Sync after restart timed out")
	}
	if runs.Load() != 2 {
		t.Fatalf("work ran %v times, expected 2", runs.Load())
	}
	w.Stop()
	w.Stop()
}

func TestWorkerSyncTimesOut(t *testing.T) {
	release := make(chan struct{})
	w := engine.NewWorker("stuck", func() { <-release }, 10*time.Millisecond, quietLogger)
	w.Wake()
	if w.Sync() {
		t.Fatalf("Sync of a stuck worker did not time out")
	}
	close(release)
	w.Stop()
}
