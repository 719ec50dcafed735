// Package encode turns mixed PCM frames into compressed packets and hands
// them to a segmented stream writer.
package encode

import (
	"errors"

	"github.com/Raikerian/go-room-egress/pkg/audio"
)

var (
	// ErrSetupFailed marks encoder or writer allocation and header failures.
	ErrSetupFailed = errors.New("encode: setup failed")
	// ErrEncodeFailed marks codec and output I/O failures after setup.
	ErrEncodeFailed = errors.New("encode: encode failed")
	// ErrClosed is returned by operations on a flushed pipeline.
	ErrClosed = errors.New("encode: pipeline closed")
	// ErrAgain is returned by Encoder.ReceivePacket when it needs more input.
	ErrAgain = errors.New("encode: encoder needs more input")

	errFrameSize = errors.New("frame size mismatch")
	errPTSOrder  = errors.New("frame pts not increasing")
)

// Packet is one compressed payload. Timestamps are in 1/sample_rate units.
type Packet struct {
	Data     []byte
	PTS      int64
	DTS      int64
	Duration int64
}

// Encoder is a block audio encoder fed with frames of FrameSize samples.
type Encoder interface {
	// FrameSize returns the per-channel samples every frame must carry.
	FrameSize() int
	// SendFrame submits a frame; nil signals end of stream.
	SendFrame(frame *audio.Frame) error
	// ReceivePacket returns the next ready packet, ErrAgain when more input
	// is needed, or io.EOF once the stream is fully drained.
	ReceivePacket() (Packet, error)
	Close() error
}

// SegmentWriter publishes packets as a segmented live stream.
type SegmentWriter interface {
	WriteHeader() error
	WritePacket(p Packet) error
	WriteTrailer() error
	Close() error
}

// EncoderOptions selects and tunes the codec.
type EncoderOptions struct {
	Codec   string // encoder name, e.g. "aac"
	BitRate int64
}

// Target describes where and how segments are written.
type Target struct {
	Dir            string // root output directory
	Room           string // namespaces the output under Dir
	Playlist       string // playlist file name
	SegmentSeconds int
	ListSize       int
	DeleteSegments bool // prune segments that fall out of the playlist
}

// Backend allocates encoders and writers.
type Backend interface {
	NewEncoder(format audio.Format, opts EncoderOptions) (Encoder, error)
	NewSegmentWriter(enc Encoder, target Target) (SegmentWriter, error)
}
