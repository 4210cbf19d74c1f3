package trips

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"calmh.dev/tripd/internal/control"
	"calmh.dev/tripd/internal/trip"
	"github.com/dustin/go-humanize"
	"golang.org/x/exp/slog"
)

type CLI struct {
	Database string `default:"tripd.db" env:"TRIPD_DATABASE" help:"Trip database path"`
	Server   string `env:"TRIPD_SERVER" help:"Control API of a running daemon (e.g., http://127.0.0.1:9141)" placeholder:"URL"`
	Limit    int    `default:"20" help:"Show at most this many records (0 for all)"`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	st, closer, err := control.Connect(cli.Server, cli.Database)
	if err != nil {
		return err
	}
	defer closer.Close()

	items, err := st.Items(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		logger.Info("No records")
		return nil
	}
	if cli.Limit > 0 && len(items) > cli.Limit {
		items = items[:cli.Limit]
	}
	return list(os.Stdout, items)
}

func list(w io.Writer, items []trip.Item) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tTYPE\tMILEAGE\tID")
	for _, item := range items {
		mileage := "-"
		if item.Type == trip.TypeNewTrip {
			mileage = fmt.Sprintf("%s %s", humanize.FtoaWithDigits(item.TotalMileage, 1), item.Unit.Abbrev())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", humanize.Time(item.Timestamp), item.Type, mileage, item.ID)
	}
	return tw.Flush()
}
