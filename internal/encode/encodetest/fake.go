// Package encodetest provides in-memory encode backends for tests.
package encodetest

import (
	"io"
	"sync"

	"github.com/Raikerian/go-room-egress/internal/encode"
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

// Backend is an encode.Backend that keeps everything in memory.
type Backend struct {
	FrameSize int
	// Lookahead is how many frames the encoder holds before it emits the
	// first packet.
	Lookahead int

	EncoderErr     error
	WriterErr      error
	HeaderErr      error
	SendErr        error // returned by SendFrame for non-nil frames
	WritePacketErr error
	TrailerErr     error

	mu      sync.Mutex
	Encoder *Encoder
	Writer  *Writer
}

// NewEncoder implements encode.Backend.
func (b *Backend) NewEncoder(format audio.Format, opts encode.EncoderOptions) (encode.Encoder, error) {
	if b.EncoderErr != nil {
		return nil, b.EncoderErr
	}
	enc := &Encoder{
		frameSize: b.FrameSize,
		lookahead: b.Lookahead,
		sendErr:   b.SendErr,
		Format:    format,
		Options:   opts,
	}

	b.mu.Lock()
	b.Encoder = enc
	b.mu.Unlock()

	return enc, nil
}

// NewSegmentWriter implements encode.Backend.
func (b *Backend) NewSegmentWriter(_ encode.Encoder, target encode.Target) (encode.SegmentWriter, error) {
	if b.WriterErr != nil {
		return nil, b.WriterErr
	}
	w := &Writer{
		headerErr:  b.HeaderErr,
		packetErr:  b.WritePacketErr,
		trailerErr: b.TrailerErr,
		Target:     target,
	}

	b.mu.Lock()
	b.Writer = w
	b.mu.Unlock()

	return w, nil
}

// Encoder emits one packet per frame, delayed by the backend's lookahead.
type Encoder struct {
	frameSize int
	lookahead int
	sendErr   error

	Format  audio.Format
	Options encode.EncoderOptions

	mu      sync.Mutex
	held    []audio.Frame
	ready   []encode.Packet
	eof     bool
	Frames  []audio.Frame
	EOFSent int
	Closed  int
}

// FrameSize implements encode.Encoder.
func (e *Encoder) FrameSize() int { return e.frameSize }

// SendFrame implements encode.Encoder.
func (e *Encoder) SendFrame(frame *audio.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if frame == nil {
		e.EOFSent++
		e.eof = true
		for _, f := range e.held {
			e.ready = append(e.ready, packetFor(f, e.frameSize))
		}
		e.held = nil
		return nil
	}
	if e.sendErr != nil {
		return e.sendErr
	}

	cp := audio.Frame{PTS: frame.PTS, Samples: append([]int16(nil), frame.Samples...)}
	e.Frames = append(e.Frames, cp)
	e.held = append(e.held, cp)
	if len(e.held) > e.lookahead {
		e.ready = append(e.ready, packetFor(e.held[0], e.frameSize))
		e.held = e.held[1:]
	}
	return nil
}

// ReceivePacket implements encode.Encoder.
func (e *Encoder) ReceivePacket() (encode.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.ready) == 0 {
		if e.eof {
			return encode.Packet{}, io.EOF
		}
		return encode.Packet{}, encode.ErrAgain
	}
	p := e.ready[0]
	e.ready = e.ready[1:]
	return p, nil
}

// Close implements encode.Encoder.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Closed++
	return nil
}

// FrameCount returns how many frames were submitted.
func (e *Encoder) FrameCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.Frames)
}

// Writer records everything written to it.
type Writer struct {
	headerErr  error
	packetErr  error
	trailerErr error

	Target encode.Target

	mu       sync.Mutex
	Header   int
	Packets  []encode.Packet
	Trailers int
	Closed   int
}

// WriteHeader implements encode.SegmentWriter.
func (w *Writer) WriteHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.headerErr != nil {
		return w.headerErr
	}
	w.Header++
	return nil
}

// WritePacket implements encode.SegmentWriter.
func (w *Writer) WritePacket(p encode.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.packetErr != nil {
		return w.packetErr
	}
	w.Packets = append(w.Packets, p)
	return nil
}

// WriteTrailer implements encode.SegmentWriter.
func (w *Writer) WriteTrailer() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Trailers++
	return w.trailerErr
}

// Close implements encode.SegmentWriter.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Closed++
	return nil
}

// Snapshot returns copies of the counters for assertions from another
// goroutine.
func (w *Writer) Snapshot() (header int, packets []encode.Packet, trailers, closed int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.Header, append([]encode.Packet(nil), w.Packets...), w.Trailers, w.Closed
}

func packetFor(f audio.Frame, frameSize int) encode.Packet {
	return encode.Packet{
		Data:     audio.PCMInt16ToLE(f.Samples[:min(4, len(f.Samples))]),
		PTS:      f.PTS,
		DTS:      f.PTS,
		Duration: int64(frameSize),
	}
}
