package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"calmh.dev/tripd/cmd/tripd/calculation"
	"calmh.dev/tripd/cmd/tripd/replay"
	"calmh.dev/tripd/cmd/tripd/serve"
	"calmh.dev/tripd/cmd/tripd/trips"
	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"golang.org/x/exp/slog"
)

type CLI struct {
	Debug bool `help:"Enable debug logging" env:"TRIPD_DEBUG"`

	Serve       serve.CLI       `cmd:"" default:"" help:"Track driving from incoming NMEA data"`
	Calculation calculation.CLI `cmd:"" help:"Start or stop a fuel calculation"`
	Trips       trips.CLI       `cmd:"" help:"List stored trips"`
	Replay      replay.CLI      `cmd:"" help:"Run GPX tracks through the trip tracker"`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli)

	level := slog.LevelInfo
	if cli.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:   level,
		NoColor: !isatty.IsTerminal(os.Stderr.Fd()),
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(logger); err != nil {
		logger.Error("Fatal", "error", err)
		os.Exit(1)
	}
}
