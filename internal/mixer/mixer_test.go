package mixer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Raikerian/go-room-egress/internal/encode"
	"github.com/Raikerian/go-room-egress/internal/encode/encodetest"
	"github.com/Raikerian/go-room-egress/internal/mixer"
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

type harness struct {
	backend *encodetest.Backend
	queue   *mixer.Queue
	mixer   *mixer.Mixer
	metrics *mixer.Metrics
}

func newHarness(t *testing.T, frame int, warmup time.Duration, backend *encodetest.Backend) *harness {
	t.Helper()

	backend.FrameSize = frame
	logger := zaptest.NewLogger(t)

	pipeline, err := encode.Open(backend, audio.Canonical(), encode.EncoderOptions{Codec: "aac"}, encode.Target{Room: "room"}, logger)
	require.NoError(t, err)

	metrics, err := mixer.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	queue := mixer.NewQueue(audio.Channels)
	m, err := mixer.New(mixer.Config{
		Room:      "room",
		Format:    audio.Canonical(),
		FrameSize: pipeline.FrameSize(),
		Warmup:    warmup,
	}, queue, pipeline, metrics, logger)
	require.NoError(t, err)

	return &harness{backend: backend, queue: queue, mixer: m, metrics: metrics}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	logger := zaptest.NewLogger(t)
	sink := &nopSink{}

	_, err := mixer.New(mixer.Config{Format: audio.Canonical(), FrameSize: 0}, mixer.NewQueue(2), sink, nil, logger)
	assert.ErrorIs(t, err, mixer.ErrInvalidConfig)

	_, err = mixer.New(mixer.Config{Format: audio.Format{}, FrameSize: 1024}, mixer.NewQueue(2), sink, nil, logger)
	assert.ErrorIs(t, err, mixer.ErrInvalidConfig)

	_, err = mixer.New(mixer.Config{Format: audio.Canonical(), FrameSize: 1024}, mixer.NewQueue(2), nil, nil, logger)
	assert.ErrorIs(t, err, mixer.ErrInvalidConfig)
}

func TestMixer_EndToEndSingleSpeaker(t *testing.T) {
	h := newHarness(t, frameSize, 10*time.Millisecond, &encodetest.Backend{})

	a, err := h.queue.Producer("a")
	require.NoError(t, err)
	_, err = h.queue.Producer("b")
	require.NoError(t, err)

	for tick := 1; tick <= 2; tick++ {
		require.NoError(t, a.Send(constant(frameSize*channels, 1000)))
		done, err := h.mixer.Step()
		require.NoError(t, err)
		require.False(t, done)
	}

	frames := h.backend.Encoder.Frames
	require.Len(t, frames, 2)
	assert.Equal(t, int64(1024), frames[0].PTS)
	assert.Equal(t, int64(2048), frames[1].PTS)
	for _, f := range frames {
		assert.Equal(t, constant(frameSize*channels, 1000), f.Samples)
	}
	assert.Equal(t, []mixer.ParticipantID{"a"}, h.mixer.Speakers(), "b never sent audio")
}

func TestMixer_SilentTicksDoNotReachEncoder(t *testing.T) {
	h := newHarness(t, frameSize, 0, &encodetest.Backend{})
	_, err := h.queue.Producer("a")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		done, err := h.mixer.Step()
		require.NoError(t, err)
		require.False(t, done)
	}

	assert.Zero(t, h.backend.Encoder.FrameCount())
	assert.Equal(t, int64(5*frameSize), h.mixer.Timeline())
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.Ticks.WithLabelValues("room", "silent")))
}

func TestMixer_FailedParticipantIsIsolated(t *testing.T) {
	h := newHarness(t, frameSize, 0, &encodetest.Backend{})

	a, err := h.queue.Producer("a")
	require.NoError(t, err)
	b, err := h.queue.Producer("b")
	require.NoError(t, err)

	require.NoError(t, a.Send(constant(frameSize*channels, 1000)))
	require.NoError(t, b.Send(constant(frameSize*channels, 3000)))
	_, err = h.mixer.Step()
	require.NoError(t, err)

	// b's ingest task ends with an error; only its handle goes away.
	b.Release()

	for tick := 0; tick < 3; tick++ {
		require.NoError(t, a.Send(constant(frameSize*channels, 1000)))
		done, err := h.mixer.Step()
		require.NoError(t, err)
		require.False(t, done)
	}

	frames := h.backend.Encoder.Frames
	require.Len(t, frames, 4)
	assert.Equal(t, int16(2000), frames[0].Samples[0])
	for i, f := range frames[1:] {
		assert.Equal(t, int16(1000), f.Samples[0], "frame %d", i+1)
		assert.Equal(t, int64((i+2)*frameSize), f.PTS)
	}
}

func TestMixer_StopsAfterBuffersArePlayedOut(t *testing.T) {
	h := newHarness(t, frameSize, 0, &encodetest.Backend{})

	a, err := h.queue.Producer("a")
	require.NoError(t, err)
	require.NoError(t, a.Send(constant(3*frameSize*channels, 10)))
	a.Release()
	h.queue.Seal()

	steps := 0
	for {
		done, err := h.mixer.Step()
		require.NoError(t, err)
		if done {
			break
		}
		steps++
		require.Less(t, steps, 10)
	}

	assert.Equal(t, 3, steps)
	assert.Equal(t, 3, h.backend.Encoder.FrameCount())
}

func TestMixer_RunFlushesOnQueueClose(t *testing.T) {
	const frame = 48 // 1ms at 48 kHz
	h := newHarness(t, frame, 0, &encodetest.Backend{Lookahead: 2})

	a, err := h.queue.Producer("a")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Send(constant(frame*channels, int16(i+1))))
	}
	a.Release()
	h.queue.Seal()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.mixer.Run(ctx))

	header, packets, trailers, closed := h.backend.Writer.Snapshot()
	assert.Equal(t, 1, header)
	assert.Equal(t, 1, trailers)
	assert.Equal(t, 1, closed)
	require.Len(t, packets, 5, "held packets drained by flush")
	for i, p := range packets {
		assert.Equal(t, int64((i+1)*frame), p.PTS)
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.Frames.WithLabelValues("room")))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.Packets.WithLabelValues("room")))
}

func TestMixer_RunKeepsCadence(t *testing.T) {
	const frame = 480 // 10ms at 48 kHz
	h := newHarness(t, frame, 0, &encodetest.Backend{})

	_, err := h.queue.Producer("a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 105*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, h.mixer.Run(ctx))
	elapsed := time.Since(start)

	ticks := h.mixer.Timeline() / frame
	expected := int64(elapsed / h.mixer.Interval())
	assert.InDelta(t, expected, ticks, 3, "one tick per interval")
	assert.Equal(t, 1, h.backend.Writer.Trailers, "cancelled run still flushes")
}

// stallingSink records when every frame arrives and blocks once.
type stallingSink struct {
	stallAt int
	stall   time.Duration

	pts []int64
	at  []time.Time
}

func (s *stallingSink) Encode(f audio.Frame) ([]encode.Packet, error) {
	s.pts = append(s.pts, f.PTS)
	s.at = append(s.at, time.Now())
	if len(s.pts) == s.stallAt {
		time.Sleep(s.stall)
	}
	return nil, nil
}

func (s *stallingSink) Flush() ([]encode.Packet, error) { return nil, nil }

func TestMixer_RunCatchesUpAfterLateTick(t *testing.T) {
	const frame = 480 // 10ms at 48 kHz

	sink := &stallingSink{stallAt: 2, stall: 50 * time.Millisecond}
	queue := mixer.NewQueue(channels)
	m, err := mixer.New(mixer.Config{Room: "room", Format: audio.Canonical(), FrameSize: frame}, queue, sink, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	a, err := queue.Producer("a")
	require.NoError(t, err)
	require.NoError(t, a.Send(constant(40*frame*channels, 100)))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, m.Run(ctx))
	elapsed := time.Since(start)

	require.Greater(t, len(sink.pts), 6)
	for i, pts := range sink.pts {
		assert.Equal(t, int64((i+1)*frame), pts, "frame %d", i)
	}

	// the stall swallowed four deadlines, their ticks run back to back
	for i := 3; i <= 5; i++ {
		gap := sink.at[i].Sub(sink.at[i-1])
		assert.Less(t, gap, m.Interval()/2, "catch-up tick %d waited %s", i, gap)
	}

	expected := int64(elapsed / m.Interval())
	assert.InDelta(t, expected, int64(len(sink.pts)), 3, "no deadline is dropped")
}

func TestMixer_RunLogsSpeakerSummary(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	queue := mixer.NewQueue(channels)
	m, err := mixer.New(mixer.Config{Room: "room", Format: audio.Canonical(), FrameSize: frameSize}, queue, nopSink{}, nil, zap.New(core))
	require.NoError(t, err)

	a, err := queue.Producer("a")
	require.NoError(t, err)
	require.NoError(t, a.Send(constant(frameSize*channels, 1)))
	a.Release()
	queue.Seal()

	require.NoError(t, m.Run(context.Background()))

	entries := logs.FilterMessage("Speaker finished").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "a", fields["participant"])
	assert.Equal(t, int64(frameSize), fields["played_until"])
	assert.Equal(t, int64(0), fields["buffered"])
	lastPut, ok := fields["last_put"].(time.Time)
	require.True(t, ok)
	assert.False(t, lastPut.IsZero())
}

func TestMetrics_ForgetDropsEveryRoomSeries(t *testing.T) {
	h := newHarness(t, frameSize, 0, &encodetest.Backend{})

	a, err := h.queue.Producer("a")
	require.NoError(t, err)
	require.NoError(t, a.Send(constant(frameSize*channels, 1)))
	a.Release()
	h.queue.Seal()

	require.NoError(t, h.mixer.Run(context.Background()))
	h.metrics.EncodeErrors.WithLabelValues("other").Inc()

	require.Equal(t, 1, testutil.CollectAndCount(h.metrics.Frames))
	assert.Zero(t, testutil.CollectAndCount(h.metrics.Speakers), "gauges go when the run ends")

	h.metrics.Forget("room")

	for name, c := range map[string]prometheus.Collector{
		"ticks":   h.metrics.Ticks,
		"frames":  h.metrics.Frames,
		"packets": h.metrics.Packets,
		"chunks":  h.metrics.Chunks,
	} {
		assert.Zero(t, testutil.CollectAndCount(c), name)
	}
	assert.Equal(t, 1, testutil.CollectAndCount(h.metrics.EncodeErrors), "other rooms untouched")

	var nilMetrics *mixer.Metrics
	assert.NotPanics(t, func() { nilMetrics.Forget("room") })
}

func TestMixer_RunReturnsEncodeFailure(t *testing.T) {
	h := newHarness(t, frameSize, 0, &encodetest.Backend{WritePacketErr: errors.New("disk full")})

	a, err := h.queue.Producer("a")
	require.NoError(t, err)
	require.NoError(t, a.Send(constant(frameSize*channels, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = h.mixer.Run(ctx)

	require.ErrorIs(t, err, encode.ErrEncodeFailed)
	assert.Equal(t, 1, h.backend.Writer.Trailers, "pipeline flushed once")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EncodeErrors.WithLabelValues("room")))
}

type nopSink struct{}

func (nopSink) Encode(audio.Frame) ([]encode.Packet, error) { return nil, nil }
func (nopSink) Flush() ([]encode.Packet, error)             { return nil, nil }
