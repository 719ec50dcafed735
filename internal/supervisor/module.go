package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-room-egress/internal/config"
	"github.com/Raikerian/go-room-egress/internal/mixer"
	"github.com/Raikerian/go-room-egress/internal/room"
)

// Module provides the room supervisor and its run history.
var Module = fx.Module("supervisor",
	fx.Provide(
		NewHistoryProvider,
		NewSupervisorProvider,
	),
)

// NewHistoryProvider creates the run history with config-derived size.
// Rooms leaving the history take their mixer series with them.
func NewHistoryProvider(cfg *config.Config, metrics *mixer.Metrics, logger *zap.Logger) (*History, error) {
	logger.Info("Creating run history", zap.Int("size", cfg.Supervisor.HistorySize))

	return NewHistory(cfg.Supervisor.HistorySize, metrics.Forget)
}

// SupervisorParams holds dependencies for NewSupervisorProvider.
type SupervisorParams struct {
	fx.In
	Egress     *room.Egress
	History    *History
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

func NewSupervisorProvider(params SupervisorParams) (*Supervisor, error) {
	return New(params.Egress, params.History, params.Registerer, params.Logger)
}
