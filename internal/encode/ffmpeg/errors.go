package ffmpeg

import (
	"errors"
)

var (
	errCodecNotFound          = errors.New("ffmpeg: codec not found")
	errFailedToCreateCodecCtx = errors.New("ffmpeg: failed to allocate codec context")
	errFailedToOpenCodecCtx   = errors.New("ffmpeg: failed to open codec context")
	errFailedToAllocFrame     = errors.New("ffmpeg: failed to allocate frame")
	errFailedToAllocBuf       = errors.New("ffmpeg: failed to allocate frame buffer")
	errFailedToAllocPacket    = errors.New("ffmpeg: failed to allocate packet")
	errFailedToAllocFormatCtx = errors.New("ffmpeg: failed to allocate output format context")
	errFailedToCreateStream   = errors.New("ffmpeg: failed to create output stream")
	errUnsupportedChannels    = errors.New("ffmpeg: unsupported channel count")
	errForeignEncoder         = errors.New("ffmpeg: encoder was not created by this backend")
	errEncoderClosed          = errors.New("ffmpeg: encoder closed")
)
