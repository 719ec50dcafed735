// Package main provides the entry point for the room egress service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/Raikerian/go-room-egress/internal/app"
	"github.com/Raikerian/go-room-egress/internal/config"
	"github.com/Raikerian/go-room-egress/internal/encode/ffmpeg"
	"github.com/Raikerian/go-room-egress/internal/infrastructure"
	"github.com/Raikerian/go-room-egress/internal/mixer"
	"github.com/Raikerian/go-room-egress/internal/room"
	"github.com/Raikerian/go-room-egress/internal/supervisor"
)

const (
	startTimeout    = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

func main() {
	cliApp := &cli.App{
		Name:  "room-egress",
		Usage: "mix the audio of conferencing rooms into live HLS streams",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file; defaults and EGRESS_* variables apply without one",
				EnvVars: []string{"EGRESS_CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  "room",
				Usage: "room to record, use the flag multiple times for several rooms",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Action: run,
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	flags := config.Flags{
		ConfigPath: c.String("config"),
		Rooms:      c.StringSlice("room"),
		LogLevel:   c.String("log-level"),
	}

	application := app.New(
		// Core modules
		fx.Supply(flags),
		config.Module,
		infrastructure.LoggerModule,
		infrastructure.MetricsModule,

		// Media modules
		mixer.Module,
		ffmpeg.Module,

		// Application modules
		room.Module,
		supervisor.Module,

		fx.WithLogger(infrastructure.NewFxLoggerAdapter),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), startTimeout)
	err := application.Start(startCtx)
	cancelStart()
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)
	case sig := <-application.Done():
		exitCode = sig.ExitCode
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	err = application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	if exitCode != 0 {
		return cli.Exit("", exitCode)
	}

	fmt.Println("Application has shut down gracefully.")
	return nil
}
