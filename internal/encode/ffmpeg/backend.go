// Package ffmpeg implements the encode backend on libavcodec and libavformat.
package ffmpeg

import (
	"strings"
	"sync"

	"github.com/asticode/go-astiav"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/encode"
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

var Module = fx.Module("ffmpeg",
	fx.Provide(
		fx.Annotate(
			NewBackend,
			fx.As(new(encode.Backend)),
		),
	),
)

var logOnce sync.Once

// Backend creates AAC encoders and HLS writers.
type Backend struct {
	logger *zap.Logger
}

// NewBackend routes libav warnings and errors into logger.
func NewBackend(logger *zap.Logger) *Backend {
	logOnce.Do(func() {
		astiav.SetLogLevel(astiav.LogLevelWarning)
		astiav.SetLogCallback(libavLogger(logger.Named("libav")))
	})

	return &Backend{logger: logger}
}

func (b *Backend) NewEncoder(format audio.Format, opts encode.EncoderOptions) (encode.Encoder, error) {
	enc, err := newAudioEncoder(format, opts)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("Created audio encoder",
		zap.String("codec", opts.Codec),
		zap.Int("frame_size", enc.FrameSize()))

	return enc, nil
}

func (b *Backend) NewSegmentWriter(enc encode.Encoder, target encode.Target) (encode.SegmentWriter, error) {
	ae, ok := enc.(*audioEncoder)
	if !ok {
		return nil, errForeignEncoder
	}

	w, err := newHLSWriter(ae, target)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("Created HLS writer", zap.String("playlist", playlistPath(target)))

	return w, nil
}

func libavLogger(logger *zap.Logger) astiav.LogCallback {
	return func(_ astiav.Classer, l astiav.LogLevel, _, msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		switch {
		case l <= astiav.LogLevelError:
			logger.Error(msg)
		case l <= astiav.LogLevelWarning:
			logger.Warn(msg)
		default:
			logger.Debug(msg)
		}
	}
}
