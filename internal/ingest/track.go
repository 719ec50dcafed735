package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// resetGap is the number of lost packets after which the decoder state is
// dropped instead of concealed across.
const resetGap = 50

// PacketReader is the part of *webrtc.TrackRemote a TrackSource needs.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Decoder turns one RTP payload into canonical PCM.
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
}

// TrackStats counts what a TrackSource has seen. Safe to read concurrently.
type TrackStats struct {
	Packets atomic.Int64
	Lost    atomic.Int64
	Skipped atomic.Int64
}

// TrackSource reads RTP packets from a remote track and decodes them.
type TrackSource struct {
	reader  PacketReader
	decoder Decoder
	logger  *zap.Logger
	stats   TrackStats

	started bool
	lastSeq uint16
}

func NewTrackSource(reader PacketReader, decoder Decoder, logger *zap.Logger) *TrackSource {
	return &TrackSource{
		reader:  reader,
		decoder: decoder,
		logger:  logger,
	}
}

func (s *TrackSource) Stats() *TrackStats {
	return &s.stats
}

// Next blocks until a decodable packet arrives. Empty and undecodable
// payloads are skipped. Returns io.EOF when the track closes.
func (s *TrackSource) Next(ctx context.Context) ([]int16, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pkt, _, err := s.reader.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil, io.EOF
			}
			return nil, err
		}
		s.stats.Packets.Inc()
		s.trackSequence(pkt.SequenceNumber)

		if len(pkt.Payload) == 0 {
			s.stats.Skipped.Inc()
			continue
		}

		pcm, err := s.decoder.Decode(pkt.Payload)
		if err != nil {
			s.stats.Skipped.Inc()
			s.logger.Debug("Skipping undecodable packet",
				zap.Uint16("seq", pkt.SequenceNumber),
				zap.Error(err))
			continue
		}

		return pcm, nil
	}
}

func (s *TrackSource) trackSequence(seq uint16) {
	if !s.started {
		s.started = true
		s.lastSeq = seq
		return
	}

	// uint16 arithmetic handles wrap-around; large deltas are reordering.
	delta := seq - s.lastSeq
	if delta == 0 || delta > 1<<15 {
		return
	}
	s.lastSeq = seq

	if gap := int64(delta) - 1; gap > 0 {
		s.stats.Lost.Add(gap)
		s.logger.Debug("RTP sequence gap",
			zap.Uint16("seq", seq),
			zap.Int64("lost", gap))

		if gap >= resetGap {
			if r, ok := s.decoder.(interface{ ResetState() }); ok {
				r.ResetState()
			}
		}
	}
}
