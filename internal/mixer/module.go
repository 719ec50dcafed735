package mixer

import (
	"go.uber.org/fx"
)

// Module provides the shared mixer metrics. Mixers themselves are created
// per room by the egress runner.
var Module = fx.Module("mixer",
	fx.Provide(NewMetrics),
)
