package soundcard

import (
	"sync/atomic"

	"github.com/vsariola/soundloop"
)

// MultiBuffer is the device's pool of soundloop.BufferCount period buffers.
// The hardware side works on the buffer at the current index while
// producers fill the next one; Rotate moves the index round-robin. Only the
// index is shared state, so buffers themselves need no locking.
type MultiBuffer struct {
	bufs    [soundloop.BufferCount][]byte
	current atomic.Int32
}

// Realloc resizes every buffer to size bytes, clearing them, and resets the
// index to the first buffer.
func (m *MultiBuffer) Realloc(size int) {
	for i := range m.bufs {
		if cap(m.bufs[i]) >= size {
			m.bufs[i] = m.bufs[i][:size]
			clear(m.bufs[i])
		} else {
			m.bufs[i] = make([]byte, size)
		}
	}
	m.current.Store(0)
}

// Index returns the index of the current buffer.
func (m *MultiBuffer) Index() int { return int(m.current.Load()) }

func (m *MultiBuffer) At(i int) []byte {
	return m.bufs[wrap(i)]
}

func (m *MultiBuffer) Buffer() []byte { return m.At(m.Index()) }
func (m *MultiBuffer) Next() []byte   { return m.At(m.Index() + 1) }
func (m *MultiBuffer) Prev() []byte   { return m.At(m.Index() - 1) }

// Rotate makes the next buffer current. It has a single writer, the device's
// period processing.
func (m *MultiBuffer) Rotate() {
	m.current.Store(int32(wrap(int(m.current.Load()) + 1)))
}

func (m *MultiBuffer) Clear(i int) {
	clear(m.bufs[wrap(i)])
}

func (m *MultiBuffer) ClearAll() {
	for i := range m.bufs {
		clear(m.bufs[i])
	}
}

func wrap(i int) int {
	return ((i % soundloop.BufferCount) + soundloop.BufferCount) % soundloop.BufferCount
}
