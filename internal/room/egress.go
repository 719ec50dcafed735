// Package room records the audio of one conferencing room into an HLS
// stream: it joins the room, pumps every audio track into the mixer and
// runs the mixer until the room goes quiet or disconnects.
package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Raikerian/go-room-egress/internal/encode"
	"github.com/Raikerian/go-room-egress/internal/ingest"
	"github.com/Raikerian/go-room-egress/internal/mixer"
	"github.com/Raikerian/go-room-egress/pkg/audio"
	"github.com/Raikerian/go-room-egress/pkg/util"
)

// EgressConfig holds the per-run settings shared by every room.
type EgressConfig struct {
	URL         string
	Format      audio.Format
	Encoder     encode.EncoderOptions
	Output      encode.Target // Room is filled in per run
	Warmup      time.Duration
	IdleTimeout time.Duration
}

// Egress records rooms. One Egress serves any number of sequential or
// concurrent Run calls.
type Egress struct {
	cfg       EgressConfig
	tokens    TokenSource
	connector Connector
	backend   encode.Backend
	metrics   *mixer.Metrics
	logger    *zap.Logger
}

func NewEgress(
	cfg EgressConfig,
	tokens TokenSource,
	connector Connector,
	backend encode.Backend,
	metrics *mixer.Metrics,
	logger *zap.Logger,
) *Egress {
	return &Egress{
		cfg:       cfg,
		tokens:    tokens,
		connector: connector,
		backend:   backend,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run records room until every track has ended and the mix is flushed, the
// room stays without live tracks for the idle timeout, or ctx is cancelled.
// It returns setup errors and fatal encode errors.
func (e *Egress) Run(ctx context.Context, room string) error {
	logger := e.logger.With(
		zap.String("room", room),
		zap.String("run_id", uuid.NewString()))

	token, err := e.tokens.Token(ctx, room)
	if err != nil {
		return fmt.Errorf("get token for room %s: %w", room, err)
	}

	target := e.cfg.Output
	target.Room = room
	pipeline, err := encode.Open(e.backend, e.cfg.Format, e.cfg.Encoder, target, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			logger.Warn("Failed to close encode pipeline", zap.Error(err))
		}
	}()

	queue := mixer.NewQueue(e.cfg.Format.Channels)
	m, err := mixer.New(mixer.Config{
		Room:      room,
		Format:    e.cfg.Format,
		FrameSize: pipeline.FrameSize(),
		Warmup:    e.cfg.Warmup,
	}, queue, pipeline, e.metrics, logger)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	idle := util.NewIdleTimer(e.cfg.IdleTimeout)
	defer idle.Stop()

	t := &tracks{
		ctx:    runCtx,
		queue:  queue,
		idle:   idle,
		format: e.cfg.Format,
		logger: logger,
		open:   true,
	}

	disconnected := make(chan struct{})
	var disconnectOnce sync.Once

	session, err := e.connector.Connect(runCtx, e.cfg.URL, token, Handler{
		OnTrack: t.add,
		OnDisconnected: func() {
			disconnectOnce.Do(func() { close(disconnected) })
		},
	})
	if err != nil {
		t.shutdown(queue, nil, cancel)
		return fmt.Errorf("connect to room %s: %w", room, err)
	}
	logger.Info("Joined room", zap.String("url", e.cfg.URL))

	go func() {
		select {
		case <-idle.C():
			logger.Info("No live tracks, sealing ingest", zap.Duration("idle_timeout", e.cfg.IdleTimeout))
		case <-disconnected:
			logger.Info("Disconnected from room, sealing ingest")
		case <-runCtx.Done():
			return
		}
		queue.Seal()
	}()

	runErr := m.Run(runCtx)
	t.shutdown(queue, session, cancel)

	logger.Info("Room egress finished",
		zap.Int("speakers", len(m.Speakers())),
		zap.Duration("recorded", e.cfg.Format.Duration(int(m.Timeline()))),
		zap.Error(runErr))

	return runErr
}

// tracks owns the ingest goroutines of one run.
type tracks struct {
	ctx    context.Context
	queue  *mixer.Queue
	idle   *util.IdleTimer
	format audio.Format
	logger *zap.Logger

	mu    sync.Mutex
	open  bool
	pumps errgroup.Group
}

func (t *tracks) add(track Track) {
	logger := t.logger.With(
		zap.String("participant", string(track.Participant)),
		zap.String("track_sid", track.SID))

	if !isOpus(track.MimeType) {
		logger.Warn("Ignoring non-opus audio track", zap.String("mime_type", track.MimeType))
		return
	}

	decoder, err := ingest.NewOpusDecoder(t.format)
	if err != nil {
		logger.Error("Failed to create track decoder", zap.Error(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return
	}

	producer, err := t.queue.Producer(track.Participant)
	if err != nil {
		logger.Debug("Ingest already sealed, ignoring track", zap.Error(err))
		return
	}
	t.idle.Acquire()

	src := ingest.NewTrackSource(track.Reader, decoder, logger)
	t.pumps.Go(func() error {
		defer t.idle.Release()
		defer producer.Release()

		if err := ingest.Pump(t.ctx, src, producer, logger); err != nil {
			logger.Warn("Track ingest ended with error", zap.Error(err))
		}

		stats := src.Stats()
		logger.Info("Track ended",
			zap.Int64("packets", stats.Packets.Load()),
			zap.Int64("lost", stats.Lost.Load()),
			zap.Int64("skipped", stats.Skipped.Load()))

		return nil
	})
}

// shutdown refuses new tracks, unblocks the running pumps and waits for
// them. session is nil when the join failed.
func (t *tracks) shutdown(queue *mixer.Queue, session Session, cancel context.CancelFunc) {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()

	queue.Close()
	if session != nil {
		session.Disconnect()
	}
	cancel()

	_ = t.pumps.Wait()
}
