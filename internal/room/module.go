package room

import (
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/config"
	"github.com/Raikerian/go-room-egress/internal/encode"
	"github.com/Raikerian/go-room-egress/internal/mixer"
	"github.com/Raikerian/go-room-egress/pkg/audio"
)

const tokenRequestTimeout = 10 * time.Second

// Module provides the room egress and what it needs to join rooms.
var Module = fx.Module("room",
	fx.Provide(
		NewTokenSource,
		fx.Annotate(
			NewLiveKitConnector,
			fx.As(new(Connector)),
		),
		NewEgressProvider,
	),
)

// NewTokenSource mints tokens locally when an API key pair is configured
// and falls back to the guest token endpoint otherwise.
func NewTokenSource(cfg *config.Config, logger *zap.Logger) TokenSource {
	lk := cfg.LiveKit
	if lk.APIKey != "" {
		logger.Info("Using API key token minter", zap.String("identity", lk.Identity))
		return NewKeyTokenMinter(lk.APIKey, lk.APISecret, lk.Identity, lk.TokenTTL)
	}

	logger.Info("Using guest token endpoint", zap.String("token_url", lk.TokenURL))
	return NewGuestTokenFetcher(lk.TokenURL, &http.Client{Timeout: tokenRequestTimeout})
}

// NewEgressConfig maps the application config onto the per-run settings.
func NewEgressConfig(cfg *config.Config) EgressConfig {
	return EgressConfig{
		URL: cfg.LiveKit.URL,
		Format: audio.Format{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
		Encoder: encode.EncoderOptions{
			Codec:   cfg.Encoder.Codec,
			BitRate: cfg.Encoder.BitRate,
		},
		Output: encode.Target{
			Dir:            cfg.HLS.OutputDir,
			Playlist:       cfg.HLS.Playlist,
			SegmentSeconds: cfg.HLS.SegmentSeconds,
			ListSize:       cfg.HLS.ListSize,
			DeleteSegments: cfg.HLS.DeleteSegments,
		},
		Warmup:      cfg.Audio.Warmup,
		IdleTimeout: cfg.Supervisor.IdleTimeout,
	}
}

// EgressParams holds dependencies for NewEgressProvider.
type EgressParams struct {
	fx.In
	Cfg       *config.Config
	Tokens    TokenSource
	Connector Connector
	Backend   encode.Backend
	Metrics   *mixer.Metrics
	Logger    *zap.Logger
}

func NewEgressProvider(params EgressParams) *Egress {
	return NewEgress(
		NewEgressConfig(params.Cfg),
		params.Tokens,
		params.Connector,
		params.Backend,
		params.Metrics,
		params.Logger,
	)
}
