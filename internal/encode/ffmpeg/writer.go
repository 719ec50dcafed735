package ffmpeg

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/asticode/go-astiav"

	"github.com/Raikerian/go-room-egress/internal/encode"
)

const (
	hlsFormatName      = "hls"
	segmentNamePattern = "segment_%05d.ts"
	outputDirPerm      = 0o755
)

type muxerOption struct {
	key   string
	value string
}

// outputDir returns the per-room directory segments and playlist live in.
func outputDir(target encode.Target) string {
	return filepath.Join(target.Dir, target.Room)
}

func playlistPath(target encode.Target) string {
	return filepath.Join(outputDir(target), target.Playlist)
}

// hlsOptions builds the muxer options for target in a stable order.
func hlsOptions(target encode.Target) []muxerOption {
	opts := []muxerOption{
		{key: "hls_time", value: strconv.Itoa(target.SegmentSeconds)},
		{key: "hls_list_size", value: strconv.Itoa(target.ListSize)},
		{key: "hls_segment_filename", value: filepath.Join(outputDir(target), segmentNamePattern)},
	}
	if target.DeleteSegments {
		opts = append(opts, muxerOption{key: "hls_flags", value: "delete_segments"})
	}
	return opts
}

// hlsWriter muxes encoded audio packets into an HLS playlist and segments.
type hlsWriter struct {
	formatCtx *astiav.FormatContext
	ioCtx     *astiav.IOContext
	stream    *astiav.Stream
	packet    *astiav.Packet
	srcTB     astiav.Rational
	target    encode.Target

	headerWritten bool
	closed        bool
}

func newHLSWriter(enc *audioEncoder, target encode.Target) (*hlsWriter, error) {
	if err := os.MkdirAll(outputDir(target), outputDirPerm); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	path := playlistPath(target)
	formatCtx, err := astiav.AllocOutputFormatContext(nil, hlsFormatName, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFailedToAllocFormatCtx, err)
	}
	if formatCtx == nil {
		return nil, errFailedToAllocFormatCtx
	}

	w := &hlsWriter{
		formatCtx: formatCtx,
		srcTB:     enc.codecCtx.TimeBase(),
		target:    target,
	}

	w.stream = formatCtx.NewStream(nil)
	if w.stream == nil {
		w.Close()
		return nil, errFailedToCreateStream
	}
	if err := w.stream.CodecParameters().FromCodecContext(enc.codecCtx); err != nil {
		w.Close()
		return nil, fmt.Errorf("copy codec parameters: %w", err)
	}
	w.stream.SetTimeBase(enc.codecCtx.TimeBase())

	if !formatCtx.OutputFormat().Flags().Has(astiav.IOFormatFlagNofile) {
		ioCtx, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite), nil, nil)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		w.ioCtx = ioCtx
		formatCtx.SetPb(ioCtx)
	}

	w.packet = astiav.AllocPacket()
	if w.packet == nil {
		w.Close()
		return nil, errFailedToAllocPacket
	}

	return w, nil
}

func (w *hlsWriter) WriteHeader() error {
	dict := astiav.NewDictionary()
	defer dict.Free()

	for _, opt := range hlsOptions(w.target) {
		if err := dict.Set(opt.key, opt.value, astiav.NewDictionaryFlags()); err != nil {
			return fmt.Errorf("set muxer option %s: %w", opt.key, err)
		}
	}

	if err := w.formatCtx.WriteHeader(dict); err != nil {
		return err
	}
	w.headerWritten = true
	return nil
}

func (w *hlsWriter) WritePacket(p encode.Packet) error {
	defer w.packet.Unref()

	if err := w.packet.FromData(p.Data); err != nil {
		return fmt.Errorf("wrap packet data: %w", err)
	}
	w.packet.SetPts(p.PTS)
	w.packet.SetDts(p.DTS)
	w.packet.SetDuration(p.Duration)
	w.packet.SetStreamIndex(w.stream.Index())
	w.packet.RescaleTs(w.srcTB, w.stream.TimeBase())

	return w.formatCtx.WriteInterleavedFrame(w.packet)
}

func (w *hlsWriter) WriteTrailer() error {
	if !w.headerWritten {
		return nil
	}
	return w.formatCtx.WriteTrailer()
}

func (w *hlsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if w.packet != nil {
		w.packet.Free()
	}
	if w.ioCtx != nil {
		err = w.ioCtx.Close()
	}
	if w.formatCtx != nil {
		w.formatCtx.Free()
	}
	return err
}
