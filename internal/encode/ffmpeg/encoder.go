package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/Raikerian/go-room-egress/internal/encode"
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

// fallbackFrameSize is used for encoders that accept any frame length.
const fallbackFrameSize = 1024

// audioEncoder wraps a libavcodec audio encoder fed with planar float frames.
type audioEncoder struct {
	codecCtx  *astiav.CodecContext
	frame     *astiav.Frame
	packet    *astiav.Packet
	channels  int
	frameSize int

	mu     sync.Mutex
	closed bool
}

func channelLayout(channels int) (astiav.ChannelLayout, error) {
	switch channels {
	case 1:
		return astiav.ChannelLayoutMono, nil
	case 2:
		return astiav.ChannelLayoutStereo, nil
	default:
		return astiav.ChannelLayout{}, fmt.Errorf("%w: %d", errUnsupportedChannels, channels)
	}
}

func newAudioEncoder(format audio.Format, opts encode.EncoderOptions) (*audioEncoder, error) {
	layout, err := channelLayout(format.Channels)
	if err != nil {
		return nil, err
	}

	codec := astiav.FindEncoderByName(opts.Codec)
	if codec == nil {
		return nil, fmt.Errorf("%w: %q", errCodecNotFound, opts.Codec)
	}

	codecCtx := astiav.AllocCodecContext(codec)
	if codecCtx == nil {
		return nil, errFailedToCreateCodecCtx
	}

	codecCtx.SetSampleRate(format.SampleRate)
	codecCtx.SetSampleFormat(astiav.SampleFormatFltp)
	codecCtx.SetChannelLayout(layout)
	codecCtx.SetBitRate(opts.BitRate)
	codecCtx.SetTimeBase(astiav.NewRational(1, format.SampleRate))

	if err := codecCtx.Open(codec, nil); err != nil {
		codecCtx.Free()
		return nil, fmt.Errorf("%w: %w", errFailedToOpenCodecCtx, err)
	}

	frameSize := codecCtx.FrameSize()
	if frameSize <= 0 {
		frameSize = fallbackFrameSize
	}

	frame := astiav.AllocFrame()
	if frame == nil {
		codecCtx.Free()
		return nil, errFailedToAllocFrame
	}
	frame.SetNbSamples(frameSize)
	frame.SetSampleFormat(astiav.SampleFormatFltp)
	frame.SetChannelLayout(layout)
	frame.SetSampleRate(format.SampleRate)

	if err := frame.AllocBuffer(0); err != nil {
		frame.Free()
		codecCtx.Free()
		return nil, fmt.Errorf("%w: %w", errFailedToAllocBuf, err)
	}

	packet := astiav.AllocPacket()
	if packet == nil {
		frame.Free()
		codecCtx.Free()
		return nil, errFailedToAllocPacket
	}

	return &audioEncoder{
		codecCtx:  codecCtx,
		frame:     frame,
		packet:    packet,
		channels:  format.Channels,
		frameSize: frameSize,
	}, nil
}

func (e *audioEncoder) FrameSize() int {
	return e.frameSize
}

func (e *audioEncoder) SendFrame(f *audio.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errEncoderClosed
	}
	if f == nil {
		return e.codecCtx.SendFrame(nil)
	}

	if err := e.frame.MakeWritable(); err != nil {
		return fmt.Errorf("make frame writable: %w", err)
	}
	if err := e.frame.Data().SetBytes(audio.S16ToPlanarF32LE(f.Samples, e.channels), 1); err != nil {
		return fmt.Errorf("fill frame: %w", err)
	}
	e.frame.SetPts(f.PTS)

	return e.codecCtx.SendFrame(e.frame)
}

func (e *audioEncoder) ReceivePacket() (encode.Packet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return encode.Packet{}, errEncoderClosed
	}

	if err := e.codecCtx.ReceivePacket(e.packet); err != nil {
		switch {
		case errors.Is(err, astiav.ErrEagain):
			return encode.Packet{}, encode.ErrAgain
		case errors.Is(err, astiav.ErrEof):
			return encode.Packet{}, io.EOF
		default:
			return encode.Packet{}, err
		}
	}
	defer e.packet.Unref()

	data := make([]byte, e.packet.Size())
	copy(data, e.packet.Data())

	return encode.Packet{
		Data:     data,
		PTS:      e.packet.Pts(),
		DTS:      e.packet.Dts(),
		Duration: e.packet.Duration(),
	}, nil
}

func (e *audioEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	if e.packet != nil {
		e.packet.Free()
	}
	if e.frame != nil {
		e.frame.Free()
	}
	if e.codecCtx != nil {
		e.codecCtx.Free()
	}

	e.closed = true
	return nil
}
