package mixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/encode"
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("mixer: invalid config")

// Sink consumes mixed frames. *encode.Pipeline implements it.
type Sink interface {
	Encode(frame audio.Frame) ([]encode.Packet, error)
	Flush() ([]encode.Packet, error)
}

// Config holds the per-room mixer settings.
type Config struct {
	Room      string
	Format    audio.Format
	FrameSize int           // per-channel samples the encoder takes per call
	Warmup    time.Duration // no frame is emitted before this much timeline
}

// Mixer drives one room: it routes ingested chunks to speaker buffers, ticks
// the engine at the frame cadence and feeds the result to the sink.
//
// All state except the queue is owned by the goroutine calling Run or Step.
type Mixer struct {
	cfg      Config
	logger   *zap.Logger
	queue    *Queue
	sink     Sink
	metrics  *Metrics
	engine   *Engine
	interval time.Duration

	speakers map[ParticipantID]*SpeakerBuffer
	order    []*SpeakerBuffer
}

// New creates a mixer reading from queue and writing to sink.
// metrics may be nil.
func New(cfg Config, queue *Queue, sink Sink, metrics *Metrics, logger *zap.Logger) (*Mixer, error) {
	if err := cfg.Format.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("%w: frame size %d", ErrInvalidConfig, cfg.FrameSize)
	}
	if queue == nil || sink == nil {
		return nil, fmt.Errorf("%w: queue and sink are required", ErrInvalidConfig)
	}

	delay := cfg.Format.SamplesFor(cfg.Warmup)

	return &Mixer{
		cfg:      cfg,
		logger:   logger.With(zap.String("room", cfg.Room)),
		queue:    queue,
		sink:     sink,
		metrics:  metrics,
		engine:   NewEngine(cfg.FrameSize, cfg.Format.Channels, delay),
		interval: cfg.Format.Duration(cfg.FrameSize),
		speakers: make(map[ParticipantID]*SpeakerBuffer),
	}, nil
}

// Interval returns the wall-clock time between ticks.
func (m *Mixer) Interval() time.Duration {
	return m.interval
}

// Timeline returns the engine's current sample position.
func (m *Mixer) Timeline() int64 {
	return m.engine.Timeline()
}

// Speakers returns the participants seen so far, in first-seen order.
func (m *Mixer) Speakers() []ParticipantID {
	ids := make([]ParticipantID, len(m.order))
	for i, s := range m.order {
		ids[i] = s.ID()
	}
	return ids
}

// Run ticks until the queue is closed, drained and every speaker buffer has
// been played out, or until ctx is cancelled. The sink is flushed exactly once
// on every return path.
//
// A late tick is followed immediately by the next one; the mixer never
// sleeps a negative interval and never runs two ticks at once.
func (m *Mixer) Run(ctx context.Context) (err error) {
	m.logger.Info("Mixer started",
		zap.Int("frame_size", m.cfg.FrameSize),
		zap.Int64("delay_samples", m.engine.Delay()),
		zap.Duration("interval", m.interval))

	defer func() {
		m.logSpeakers()
		err = m.flush(err)
		m.metrics.forget(m.cfg.Room)
	}()

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	deadline := time.Now()
	for {
		if ctx.Err() != nil {
			m.logger.Info("Mixer cancelled", zap.Int64("timeline", m.engine.Timeline()))
			return nil
		}

		done, stepErr := m.Step()
		if stepErr != nil {
			return stepErr
		}
		if done {
			m.logger.Info("Ingest closed and drained, stopping mixer",
				zap.Int64("timeline", m.engine.Timeline()),
				zap.Int("speakers", len(m.order)))
			return nil
		}

		deadline = deadline.Add(m.interval)
		wait := time.Until(deadline)
		if wait <= 0 {
			continue
		}

		timer.Reset(wait)
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// Step drains the queue and runs one tick. It reports true, without ticking,
// once there is nothing left to play.
func (m *Mixer) Step() (bool, error) {
	closed := m.queue.Closed()

	n := m.queue.Drain(m.route)
	m.metrics.addChunks(m.cfg.Room, n)

	buffered := m.buffered()
	if closed && buffered == 0 {
		return true, nil
	}

	res := m.engine.Tick(m.order)
	m.metrics.observeTick(m.cfg.Room, res)
	m.metrics.setBuffered(m.cfg.Room, m.buffered())

	if !res.Emitted {
		return false, nil
	}

	packets, err := m.sink.Encode(res.Frame)
	m.metrics.addPackets(m.cfg.Room, len(packets))
	if err != nil {
		m.metrics.encodeFailed(m.cfg.Room)
		m.logger.Error("Failed to encode mixed frame",
			zap.Int64("pts", res.Frame.PTS),
			zap.Int("active_speakers", res.Active),
			zap.Error(err))

		return false, err
	}

	return false, nil
}

func (m *Mixer) route(chunk AudioChunk) {
	buf, ok := m.speakers[chunk.Participant]
	if !ok {
		buf = NewSpeakerBuffer(chunk.Participant, m.cfg.FrameSize, m.cfg.Format.Channels)
		m.speakers[chunk.Participant] = buf
		m.order = append(m.order, buf)
		m.metrics.setSpeakers(m.cfg.Room, len(m.order))

		m.logger.Info("New speaker",
			zap.String("participant", string(chunk.Participant)),
			zap.Int64("timeline", m.engine.Timeline()))
	}
	buf.Put(chunk)
}

func (m *Mixer) logSpeakers() {
	for _, s := range m.order {
		m.logger.Debug("Speaker finished",
			zap.String("participant", string(s.ID())),
			zap.Time("last_put", s.LastPut()),
			zap.Int64("played_until", s.PlayedUntil()),
			zap.Int("buffered", s.Buffered()))
	}
}

func (m *Mixer) buffered() int {
	total := 0
	for _, s := range m.order {
		total += s.Buffered()
	}
	return total
}

func (m *Mixer) flush(runErr error) error {
	packets, err := m.sink.Flush()
	m.metrics.addPackets(m.cfg.Room, len(packets))

	switch {
	case err == nil:
		m.logger.Info("Mixer flushed",
			zap.Int("packets", len(packets)),
			zap.Int64("timeline", m.engine.Timeline()))
	case errors.Is(err, encode.ErrClosed):
		// the pipeline already flushed itself after a fatal error
	default:
		m.logger.Error("Failed to flush encoder", zap.Error(err))
		if runErr == nil {
			return err
		}
	}

	return runErr
}
