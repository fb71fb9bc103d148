package oto

import (
	"errors"
	"sync"
)

// queue hands period buffers from the device's callback goroutine to the
// oto player, which pulls them through Read. Push blocks while depth periods
// are queued, which paces the device to the hardware.
type queue struct {
	chunks  chan *[]byte
	closed  chan struct{}
	once    sync.Once
	pending *[]byte
	offset  int
	pool    sync.Pool
}

var errQueueClosed = errors.New("oto: port closed")

func newQueue(depth int) *queue {
	return &queue{
		chunks: make(chan *[]byte, depth),
		closed: make(chan struct{}),
		pool:   sync.Pool{New: func() any { b := make([]byte, 0, 8192); return &b }},
	}
}

// Push copies buf into the queue.
func (q *queue) Push(buf []byte) error {
	b := q.pool.Get().(*[]byte)
	*b = append((*b)[:0], buf...)
	select {
	case q.chunks <- b:
		return nil
	case <-q.closed:
		q.pool.Put(b)
		return errQueueClosed
	}
}

// Read implements io.Reader for the oto player. When no period is queued it
// plays silence rather than blocking the audio thread.
func (q *queue) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if q.pending == nil {
			select {
			case b := <-q.chunks:
				q.pending, q.offset = b, 0
			default:
				clear(p[n:])
				return len(p), nil
			}
		}
		c := copy(p[n:], (*q.pending)[q.offset:])
		n += c
		q.offset += c
		if q.offset >= len(*q.pending) {
			q.pool.Put(q.pending)
			q.pending = nil
		}
	}
	return n, nil
}

func (q *queue) Close() {
	q.once.Do(func() { close(q.closed) })
}
