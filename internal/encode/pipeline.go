package encode

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/pkg/audio"
)

// State is a pipeline lifecycle stage.
type State int

// Pipeline states. Transitions only move forward; Closed is final.
const (
	StateUninitialized State = iota
	StateOpen
	StateEncoding
	StateFlushing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpen:
		return "open"
	case StateEncoding:
		return "encoding"
	case StateFlushing:
		return "flushing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Pipeline owns one encoder and one segment writer.
//
// It is driven by a single goroutine. Flush releases both resources and runs
// at most once; Close runs it if nobody did.
type Pipeline struct {
	logger *zap.Logger
	enc    Encoder
	writer SegmentWriter
	format audio.Format

	state   State
	lastPTS int64
	frames  int64
	packets int64
}

// Open allocates the encoder, opens the writer for target and writes the
// container header. Any failure is wrapped in ErrSetupFailed and everything
// allocated so far is released.
func Open(backend Backend, format audio.Format, opts EncoderOptions, target Target, logger *zap.Logger) (*Pipeline, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetupFailed, err)
	}

	enc, err := backend.NewEncoder(format, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: create encoder: %w", ErrSetupFailed, err)
	}
	if enc.FrameSize() <= 0 {
		_ = enc.Close()
		return nil, fmt.Errorf("%w: encoder reported frame size %d", ErrSetupFailed, enc.FrameSize())
	}

	writer, err := backend.NewSegmentWriter(enc, target)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("%w: create segment writer: %w", ErrSetupFailed, err)
	}

	if err := writer.WriteHeader(); err != nil {
		_ = writer.Close()
		_ = enc.Close()
		return nil, fmt.Errorf("%w: write header: %w", ErrSetupFailed, err)
	}

	p := &Pipeline{
		logger: logger.With(zap.String("room", target.Room)),
		enc:    enc,
		writer: writer,
		format: format,
		state:  StateOpen,
	}

	p.logger.Info("Encode pipeline opened",
		zap.String("codec", opts.Codec),
		zap.Int64("bit_rate", opts.BitRate),
		zap.Int("frame_size", enc.FrameSize()),
		zap.Int("sample_rate", format.SampleRate),
		zap.Int("channels", format.Channels))

	return p, nil
}

// FrameSize returns the per-channel samples every frame must carry.
func (p *Pipeline) FrameSize() int {
	return p.enc.FrameSize()
}

// State returns the current lifecycle stage.
func (p *Pipeline) State() State {
	return p.state
}

// Encode submits one frame and writes every packet the encoder has ready.
// The encoder may hold frames back, so zero packets is a normal result.
//
// Any error is fatal: the pipeline flushes best-effort, closes, and the error
// wraps ErrEncodeFailed.
func (p *Pipeline) Encode(frame audio.Frame) ([]Packet, error) {
	if p.state != StateOpen && p.state != StateEncoding {
		return nil, ErrClosed
	}

	want := p.format.Interleaved(p.enc.FrameSize())
	if len(frame.Samples) != want {
		return nil, p.fail(fmt.Errorf("%w: got %d samples, want %d", errFrameSize, len(frame.Samples), want))
	}
	if p.state == StateEncoding && frame.PTS <= p.lastPTS {
		return nil, p.fail(fmt.Errorf("%w: %d after %d", errPTSOrder, frame.PTS, p.lastPTS))
	}

	p.state = StateEncoding
	p.lastPTS = frame.PTS

	if err := p.enc.SendFrame(&frame); err != nil {
		return nil, p.fail(fmt.Errorf("send frame: %w", err))
	}
	p.frames++

	packets, err := p.drain()
	if err != nil {
		return packets, p.fail(err)
	}

	return packets, nil
}

// Flush signals end of stream, writes the remaining packets and the trailer,
// and releases the encoder and writer. Later calls return ErrClosed.
func (p *Pipeline) Flush() ([]Packet, error) {
	if p.state == StateFlushing || p.state == StateClosed || p.state == StateUninitialized {
		return nil, ErrClosed
	}
	p.state = StateFlushing
	defer p.release()

	var errs []error
	if err := p.enc.SendFrame(nil); err != nil && !errors.Is(err, io.EOF) {
		errs = append(errs, fmt.Errorf("signal end of stream: %w", err))
	}

	packets, err := p.drain()
	if err != nil {
		errs = append(errs, err)
	}

	if err := p.writer.WriteTrailer(); err != nil {
		errs = append(errs, fmt.Errorf("write trailer: %w", err))
	}

	p.logger.Info("Encode pipeline flushed",
		zap.Int64("frames", p.frames),
		zap.Int64("packets", p.packets),
		zap.Int64("last_pts", p.lastPTS))

	if len(errs) > 0 {
		return packets, fmt.Errorf("%w: %w", ErrEncodeFailed, errors.Join(errs...))
	}

	return packets, nil
}

// Close flushes the pipeline if that has not happened yet. Safe to call
// multiple times and on every exit path.
func (p *Pipeline) Close() error {
	if p.state == StateClosed {
		return nil
	}
	_, err := p.Flush()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// drain writes packets until the encoder has nothing ready.
func (p *Pipeline) drain() ([]Packet, error) {
	var out []Packet
	for {
		pkt, err := p.enc.ReceivePacket()
		if errors.Is(err, ErrAgain) || errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("receive packet: %w", err)
		}

		if err := p.writer.WritePacket(pkt); err != nil {
			return out, fmt.Errorf("write packet pts=%d: %w", pkt.PTS, err)
		}
		p.packets++
		out = append(out, pkt)
	}
}

func (p *Pipeline) fail(cause error) error {
	p.logger.Error("Encode pipeline failed, flushing", zap.Error(cause))

	if _, err := p.Flush(); err != nil {
		p.logger.Warn("Best-effort flush after failure did not complete", zap.Error(err))
	}

	return fmt.Errorf("%w: %w", ErrEncodeFailed, cause)
}

func (p *Pipeline) release() {
	if err := p.writer.Close(); err != nil {
		p.logger.Warn("Failed to close segment writer", zap.Error(err))
	}
	if err := p.enc.Close(); err != nil {
		p.logger.Warn("Failed to close encoder", zap.Error(err))
	}
	p.state = StateClosed
}
