package soundcard_test

import (
	"testing"

	"github.com/vsariola/soundloop"
	"github.com/vsariola/soundloop/soundcard"
)

func TestMultiBufferWrapsIndices(t *testing.T) {
	var m soundcard.MultiBuffer
	m.Realloc(4)
	for i := 0; i < soundloop.BufferCount; i++ {
		m.At(i)[0] = byte(i + 1)
	}
	if m.At(-1)[0] != soundloop.BufferCount {
		t.Fatalf("buffer -1 got %v, expected the last buffer", m.At(-1)[0])
	}
	if m.At(soundloop.BufferCount)[0] != 1 {
		t.Fatalf("buffer %d got %v, expected the first buffer", soundloop.BufferCount, m.At(soundloop.BufferCount)[0])
	}
	for i := 0; i < soundloop.BufferCount; i++ {
		m.Rotate()
	}
	if m.Index() != 0 {
		t.Fatalf("index after a full rotation got %v, expected 0", m.Index())
	}
	if m.Prev()[0] != soundloop.BufferCount || m.Next()[0] != 2 {
		t.Fatalf("prev/next got %v/%v, expected %v/2", m.Prev()[0], m.Next()[0], soundloop.BufferCount)
	}
}

func TestMultiBufferClear(t *testing.T) {
	var m soundcard.MultiBuffer
	m.Realloc(2)
	for i := 0; i < soundloop.BufferCount; i++ {
		m.At(i)[1] = 7
	}
	m.Clear(soundloop.BufferCount + 3)
	if m.At(3)[1] != 0 || m.At(4)[1] != 7 {
		t.Fatalf("Clear touched the wrong buffer")
	}
	m.ClearAll()
	for i := 0; i < soundloop.BufferCount; i++ {
		if m.At(i)[1] != 0 {
			t.Fatalf("buffer %d not cleared", i)
		}
	}
	m.Rotate()
	m.Realloc(8)
	if m.Index() != 0 || len(m.Buffer()) != 8 {
		t.Fatalf("Realloc got index %v and %v bytes, expected 0 and 8", m.Index(), len(m.Buffer()))
	}
}
