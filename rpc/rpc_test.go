package rpc_test

import (
	"testing"

	"github.com/vsariola/soundloop/engine"
	"github.com/vsariola/soundloop/rpc"
)

type fixedSource engine.Status

func (f fixedSource) Status() engine.Status { return engine.Status(f) }

func TestStatusRoundTrip(t *testing.T) {
	want := engine.Status{Tic: 42, LastSync: 41, NoteOffset: 3, NoteOffsetAbsolute: 67, Playing: true, Peak: 0.5}
	want.Units[engine.KindAudio] = 1
	l, err := rpc.Listen("127.0.0.1:0", fixedSource(want))
	if err != nil {
		t.Fatalf("rpc.Listen error: %v", err)
	}
	defer l.Close()
	client, err := rpc.Dial(l.Addr().String())
	if err != nil {
		t.Fatalf("rpc.Dial error: %v", err)
	}
	defer client.Close()
	got, err := client.Status()
	if err != nil {
		t.Fatalf("client.Status error: %v", err)
	}
	if got != want {
		t.Fatalf("status mismatch, got %+v, expected %+v", got, want)
	}
}

func TestTwoServersInOneProcess(t *testing.T) {
	for i := uint64(0); i < 2; i++ {
		l, err := rpc.Listen("127.0.0.1:0", fixedSource(engine.Status{Tic: i}))
		if err != nil {
			t.Fatalf("rpc.Listen %d error: %v", i, err)
		}
		defer l.Close()
		client, err := rpc.Dial(l.Addr().String())
		if err != nil {
			t.Fatalf("rpc.Dial %d error: %v", i, err)
		}
		defer client.Close()
		got, err := client.Status()
		if err != nil {
			t.Fatalf("client.Status %d error: %v", i, err)
		}
		if got.Tic != i {
			t.Fatalf("wrong server answered, got tic %v, expected %v", got.Tic, i)
		}
	}
}
