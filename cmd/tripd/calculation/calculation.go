package calculation

import (
	"context"

	"calmh.dev/tripd/internal/control"
	"calmh.dev/tripd/internal/trip"
	"github.com/dustin/go-humanize"
	"golang.org/x/exp/slog"
)

type CLI struct {
	Database string `default:"tripd.db" env:"TRIPD_DATABASE" help:"Trip database path"`
	Server   string `env:"TRIPD_SERVER" help:"Control API of a running daemon (e.g., http://127.0.0.1:9141)" placeholder:"URL"`

	Start startCmd `cmd:"" help:"Start a new fuel calculation; trips are stored from now on"`
	Stop  stopCmd  `cmd:"" help:"Stop the fuel calculation in progress"`
}

type startCmd struct {
	Unit string `default:"metric" enum:"metric,imperial" help:"Unit to record mileage in (${enum})"`
}

func (c *startCmd) Run(ctx context.Context, cli *CLI, logger *slog.Logger) error {
	unit, err := trip.ParseUnit(c.Unit)
	if err != nil {
		return err
	}

	st, closer, err := control.Connect(cli.Server, cli.Database)
	if err != nil {
		return err
	}
	defer closer.Close()

	items, err := st.Items(ctx)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Type == trip.TypeNewCalculation {
			logger.Warn("Replacing calculation in progress", "started", humanize.Time(item.Timestamp), "unit", item.Unit)
			break
		}
	}

	item, err := st.StartCalculation(ctx, unit)
	if err != nil {
		return err
	}
	logger.Info("Started calculation", "id", item.ID, "unit", item.Unit)
	return nil
}

type stopCmd struct{}

func (c *stopCmd) Run(ctx context.Context, cli *CLI, logger *slog.Logger) error {
	st, closer, err := control.Connect(cli.Server, cli.Database)
	if err != nil {
		return err
	}
	defer closer.Close()

	n, err := st.StopCalculation(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		logger.Warn("No calculation in progress")
		return nil
	}
	logger.Info("Stopped calculation", "records", n)
	return nil
}
