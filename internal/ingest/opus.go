package ingest

import (
	"errors"
	"fmt"

	"layeh.com/gopus"

	"github.com/Raikerian/go-room-egress/pkg/audio"
)

// MaxOpusFrameSize is the longest Opus frame (120ms at 48 kHz) per channel.
const MaxOpusFrameSize = 5760

var ErrEmptyPayload = errors.New("ingest: empty opus payload")

// OpusDecoder decodes Opus payloads straight into the canonical format.
// libopus resamples and up- or down-mixes internally, so mono senders come
// out as canonical stereo.
type OpusDecoder struct {
	decoder *gopus.Decoder
	format  audio.Format
}

func NewOpusDecoder(format audio.Format) (*OpusDecoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	decoder, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{decoder: decoder, format: format}, nil
}

// Decode returns interleaved PCM for one Opus packet.
func (d *OpusDecoder) Decode(payload []byte) ([]int16, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	pcm, err := d.decoder.Decode(payload, MaxOpusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus data: %w", err)
	}
	if len(pcm)%d.format.Channels != 0 {
		return nil, fmt.Errorf("decoded %d samples for %d channels", len(pcm), d.format.Channels)
	}

	return pcm, nil
}

func (d *OpusDecoder) ResetState() {
	d.decoder.ResetState()
}
