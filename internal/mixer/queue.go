package mixer

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/atomic"
)

var (
	// ErrQueueClosed is returned when sending to a closed queue.
	ErrQueueClosed = errors.New("mixer: ingest queue closed")
	// ErrMisalignedChunk is returned for chunks that do not hold whole frames
	// of interleaved samples.
	ErrMisalignedChunk = errors.New("mixer: chunk length is not a multiple of the channel count")
)

// Queue is the unbounded multi-producer, single-consumer channel between
// ingest goroutines and the mixer. Send never blocks.
//
// The queue closes either through Close or once it has been sealed and every
// producer handle has been released.
type Queue struct {
	channels int

	mu        sync.Mutex
	items     []AudioChunk
	closed    bool
	sealed    bool
	producers int
}

// NewQueue creates an open queue for chunks with the given channel count.
func NewQueue(channels int) *Queue {
	return &Queue{channels: channels}
}

// Send enqueues a chunk. Ownership of chunk.Samples moves to the queue.
func (q *Queue) Send(chunk AudioChunk) error {
	if len(chunk.Samples)%q.channels != 0 {
		return fmt.Errorf("%w: %d samples for %d channels", ErrMisalignedChunk, len(chunk.Samples), q.channels)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, chunk)

	return nil
}

// Drain hands every queued chunk to fn in send order and returns how many
// there were. It never waits for new chunks.
func (q *Queue) Drain(fn func(AudioChunk)) int {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, c := range items {
		fn(c)
	}
	return len(items)
}

// Closed reports whether the queue accepts no more chunks.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.closed
}

// Close stops the queue from accepting chunks. Already queued chunks can
// still be drained. Safe to call multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}

// Seal closes the queue as soon as no producer handle is outstanding.
func (q *Queue) Seal() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.sealed = true
	if q.producers == 0 {
		q.closed = true
	}
}

// Producer registers a new producer for a participant.
func (q *Queue) Producer(id ParticipantID) (*Producer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}
	q.producers++

	return &Producer{queue: q, id: id}, nil
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.producers--
	if q.sealed && q.producers == 0 {
		q.closed = true
	}
}

// Producer is a send handle bound to one participant. A released handle
// can no longer send.
type Producer struct {
	queue    *Queue
	id       ParticipantID
	released atomic.Bool
}

// ID returns the participant the producer sends for.
func (p *Producer) ID() ParticipantID {
	return p.id
}

// Send enqueues samples for the producer's participant.
func (p *Producer) Send(samples []int16) error {
	if p.released.Load() {
		return ErrQueueClosed
	}
	return p.queue.Send(AudioChunk{Participant: p.id, Samples: samples})
}

// Release gives the handle back. Safe to call multiple times.
func (p *Producer) Release() {
	if p.released.CompareAndSwap(false, true) {
		p.queue.release()
	}
}
