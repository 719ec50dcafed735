package app

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Raikerian/go-room-egress/internal/config"
	"github.com/Raikerian/go-room-egress/internal/encode/ffmpeg"
	"github.com/Raikerian/go-room-egress/internal/infrastructure"
	"github.com/Raikerian/go-room-egress/internal/mixer"
	"github.com/Raikerian/go-room-egress/internal/room"
	"github.com/Raikerian/go-room-egress/internal/supervisor"
)

func TestModulesWireUp(t *testing.T) {
	err := fx.ValidateApp(
		fx.Supply(config.Flags{}),
		config.Module,
		infrastructure.LoggerModule,
		infrastructure.MetricsModule,
		mixer.Module,
		ffmpeg.Module,
		room.Module,
		supervisor.Module,
		fx.Invoke(registerLifecycleHooks),
	)
	assert.NoError(t, err)
}

func testApp(t *testing.T, cfg *config.Config, runner supervisor.Runner) (*fxtest.App, *supervisor.Supervisor) {
	t.Helper()

	var sup *supervisor.Supervisor
	app := fxtest.New(t,
		fx.Supply(cfg),
		fx.Provide(
			func() *zap.Logger { return zaptest.NewLogger(t) },
			func(logger *zap.Logger) (*supervisor.Supervisor, error) {
				history, err := supervisor.NewHistory(4, nil)
				if err != nil {
					return nil, err
				}
				return supervisor.New(runner, history, prometheus.NewRegistry(), logger)
			},
		),
		fx.Invoke(registerLifecycleHooks),
		fx.Populate(&sup),
	)

	return app, sup
}

func TestLifecycle_StartsRoomsAndExitsWhenDone(t *testing.T) {
	cfg := config.Default()
	cfg.Rooms = []string{"a", "b"}
	cfg.Supervisor.ExitWhenDone = true

	started := make(chan string, 2)
	runner := supervisor.RunnerFunc(func(_ context.Context, room string) error {
		started <- room
		return nil
	})

	app, sup := testApp(t, &cfg, runner)
	app.RequireStart()

	select {
	case <-app.Wait():
	case <-time.After(time.Second):
		t.Fatal("application did not ask to shut down")
	}

	got := []string{<-started, <-started}
	assert.ElementsMatch(t, []string{"a", "b"}, got)

	_, ok := sup.Result("a")
	assert.True(t, ok)

	app.RequireStop()
}

func TestLifecycle_StopDrainsRooms(t *testing.T) {
	cfg := config.Default()
	cfg.Rooms = []string{"live"}

	flushed := make(chan struct{})
	runner := supervisor.RunnerFunc(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		close(flushed)
		return nil
	})

	app, sup := testApp(t, &cfg, runner)
	app.RequireStart()
	assert.Equal(t, []string{"live"}, sup.Running())

	app.RequireStop()

	select {
	case <-flushed:
	default:
		t.Fatal("room was not drained on stop")
	}
	assert.Empty(t, sup.Running())
}

func TestLifecycle_NoRooms(t *testing.T) {
	cfg := config.Default()

	app, sup := testApp(t, &cfg, supervisor.RunnerFunc(func(context.Context, string) error { return nil }))
	require.NotNil(t, app)

	app.RequireStart()
	assert.Empty(t, sup.Running())
	app.RequireStop()
}
