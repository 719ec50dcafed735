// Package ingest turns per-participant media tracks into canonical PCM and
// feeds it into the mixer queue.
package ingest

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/mixer"
)

// Source yields canonical interleaved PCM chunks for one participant track.
// Next returns io.EOF once the track has ended.
type Source interface {
	Next(ctx context.Context) ([]int16, error)
}

// Sink accepts chunks for one participant. *mixer.Producer satisfies it.
type Sink interface {
	Send(samples []int16) error
}

// Pump copies chunks from src to sink until the source ends, ctx is
// cancelled or the queue closes; those outcomes return nil. Any other error
// ends only this track.
func Pump(ctx context.Context, src Source, sink Sink, logger *zap.Logger) error {
	var chunks, samples int64
	defer func() {
		logger.Debug("Ingest pump finished",
			zap.Int64("chunks", chunks),
			zap.Int64("samples", samples))
	}()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		pcm, err := src.Next(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			return err
		}

		if len(pcm) == 0 {
			continue
		}

		if err := sink.Send(pcm); err != nil {
			if errors.Is(err, mixer.ErrQueueClosed) {
				return nil
			}
			return err
		}

		chunks++
		samples += int64(len(pcm))
	}
}
