package ingest_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"layeh.com/gopus"

	"github.com/Raikerian/go-room-egress/internal/ingest"
	"github.com/Raikerian/go-room-egress/internal/mixer"
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

type sliceSource struct {
	chunks [][]int16
	err    error
}

func (s *sliceSource) Next(context.Context) ([]int16, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

type recordingSink struct {
	got [][]int16
	err error
}

func (s *recordingSink) Send(samples []int16) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, samples)
	return nil
}

func TestPump(t *testing.T) {
	boom := errors.New("track reset")

	tests := map[string]struct {
		src     *sliceSource
		sink    *recordingSink
		wantErr error
		wantN   int
	}{
		"ends at eof": {
			src:   &sliceSource{chunks: [][]int16{{1, 2}, {3, 4}}},
			sink:  &recordingSink{},
			wantN: 2,
		},
		"skips empty chunks": {
			src:   &sliceSource{chunks: [][]int16{{1, 2}, {}, {3, 4}}},
			sink:  &recordingSink{},
			wantN: 2,
		},
		"source error is returned": {
			src:     &sliceSource{chunks: [][]int16{{1, 2}}, err: boom},
			sink:    &recordingSink{},
			wantErr: boom,
			wantN:   1,
		},
		"closed queue is a clean stop": {
			src:  &sliceSource{chunks: [][]int16{{1, 2}}},
			sink: &recordingSink{err: mixer.ErrQueueClosed},
		},
		"cancelled source is a clean stop": {
			src:  &sliceSource{err: context.Canceled},
			sink: &recordingSink{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := ingest.Pump(context.Background(), tt.src, tt.sink, zaptest.NewLogger(t))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, tt.sink.got, tt.wantN)
		})
	}
}

func TestPump_FeedsQueue(t *testing.T) {
	queue := mixer.NewQueue(audio.Channels)
	producer, err := queue.Producer("a")
	require.NoError(t, err)

	src := &sliceSource{chunks: [][]int16{{1, 2, 3, 4}, {5, 6}}}
	require.NoError(t, ingest.Pump(context.Background(), src, producer, zaptest.NewLogger(t)))

	var got []mixer.AudioChunk
	queue.Drain(func(c mixer.AudioChunk) { got = append(got, c) })
	require.Len(t, got, 2)
	assert.Equal(t, mixer.ParticipantID("a"), got[0].Participant)
	assert.Equal(t, []int16{5, 6}, got[1].Samples)
}

func TestPump_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	err := ingest.Pump(ctx, &sliceSource{chunks: [][]int16{{1, 2}}}, sink, zaptest.NewLogger(t))

	assert.NoError(t, err)
	assert.Empty(t, sink.got)
}

func TestOpusDecoder_RoundTrip(t *testing.T) {
	const frame = 960 // 20ms

	enc, err := gopus.NewEncoder(audio.SampleRate, audio.Channels, gopus.Audio)
	require.NoError(t, err)

	pcm := make([]int16, frame*audio.Channels)
	for i := range pcm {
		pcm[i] = int16((i % 200) * 50)
	}
	payload, err := enc.Encode(pcm, frame, 4000)
	require.NoError(t, err)

	dec, err := ingest.NewOpusDecoder(audio.Canonical())
	require.NoError(t, err)

	out, err := dec.Decode(payload)
	require.NoError(t, err)
	assert.Len(t, out, frame*audio.Channels)
}

func TestOpusDecoder_RejectsEmptyPayload(t *testing.T) {
	dec, err := ingest.NewOpusDecoder(audio.Canonical())
	require.NoError(t, err)

	_, err = dec.Decode(nil)
	assert.ErrorIs(t, err, ingest.ErrEmptyPayload)
}

func TestNewOpusDecoder_InvalidFormat(t *testing.T) {
	_, err := ingest.NewOpusDecoder(audio.Format{SampleRate: 48000, Channels: 3})
	assert.ErrorIs(t, err, audio.ErrInvalidFormat)
}

type fakeReader struct {
	packets []*rtp.Packet
	err     error
}

func (r *fakeReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if len(r.packets) == 0 {
		if r.err != nil {
			return nil, nil, r.err
		}
		return nil, nil, io.EOF
	}
	p := r.packets[0]
	r.packets = r.packets[1:]
	return p, nil, nil
}

type fakeDecoder struct {
	resets int
}

func (d *fakeDecoder) Decode(payload []byte) ([]int16, error) {
	if payload[0] == 0xff {
		return nil, errors.New("corrupt")
	}
	return []int16{int16(payload[0]), int16(payload[0])}, nil
}

func (d *fakeDecoder) ResetState() { d.resets++ }

func packet(seq uint16, payload ...byte) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}, Payload: payload}
}

func TestTrackSource_SkipsBadPacketsAndCountsGaps(t *testing.T) {
	reader := &fakeReader{packets: []*rtp.Packet{
		packet(65534, 1),
		packet(65535),   // empty
		packet(2, 0xff), // wraps, lost 0 and 1; corrupt
		packet(3, 3),
		packet(1, 9), // late, ignored for sequencing
	}}
	dec := &fakeDecoder{}
	src := ingest.NewTrackSource(reader, dec, zaptest.NewLogger(t))
	ctx := context.Background()

	var got [][]int16
	for {
		pcm, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, pcm)
	}

	assert.Equal(t, [][]int16{{1, 1}, {3, 3}, {9, 9}}, got)
	stats := src.Stats()
	assert.Equal(t, int64(5), stats.Packets.Load())
	assert.Equal(t, int64(2), stats.Lost.Load())
	assert.Equal(t, int64(2), stats.Skipped.Load())
	assert.Zero(t, dec.resets)
}

func TestTrackSource_LongGapResetsDecoder(t *testing.T) {
	reader := &fakeReader{packets: []*rtp.Packet{packet(10, 1), packet(100, 2)}}
	dec := &fakeDecoder{}
	src := ingest.NewTrackSource(reader, dec, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 1, dec.resets)
	assert.Equal(t, int64(89), src.Stats().Lost.Load())
}

func TestTrackSource_ReadErrorIsReturned(t *testing.T) {
	boom := errors.New("srtp failure")
	src := ingest.NewTrackSource(&fakeReader{err: boom}, &fakeDecoder{}, zaptest.NewLogger(t))

	_, err := src.Next(context.Background())
	assert.ErrorIs(t, err, boom)
}
