package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"calmh.dev/tripd/internal/gpx/reader"
	"calmh.dev/tripd/internal/location"
	"calmh.dev/tripd/internal/store"
	"calmh.dev/tripd/internal/trip"
	"github.com/dustin/go-humanize"
	"golang.org/x/exp/slog"
)

type CLI struct {
	Files        []string `arg:"" type:"existingfile" help:"GPX files to replay"`
	Database     string   `default:"tripd.db" env:"TRIPD_DATABASE" help:"Trip database path"`
	DrivingSpeed float64  `default:"4.16667" help:"Speed above which we are driving (m/s)"`
	Calculation  string   `default:"none" enum:"none,metric,imperial" help:"Start a calculation in this unit before replaying (${enum})"`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	db, err := store.Open(cli.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	if cli.Calculation != "none" {
		unit, err := trip.ParseUnit(cli.Calculation)
		if err != nil {
			return err
		}
		if _, err := db.StartCalculation(ctx, unit); err != nil {
			return err
		}
	}

	// No timers; the replay decides when to check and flush.
	tracker := trip.NewTracker(db, trip.Options{DrivingSpeed: cli.DrivingSpeed}, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = tracker.Serve(ctx) }()

	r := &replayer{tracker: tracker, out: os.Stdout}
	for _, file := range cli.Files {
		if err := r.replayFile(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

type tracker interface {
	Locations(ctx context.Context, samples []location.Sample) error
	CheckSpeed(ctx context.Context) (bool, error)
	Flush(ctx context.Context) (trip.FlushResult, error)
}

type replayer struct {
	tracker tracker
	out     io.Writer
}

func (r *replayer) replayFile(ctx context.Context, file string) error {
	fd, err := os.Open(file)
	if err != nil {
		return err
	}
	defer fd.Close()

	segments, err := reader.Points(fd)
	if err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}

	for i, seg := range segments {
		res, err := r.replaySegment(ctx, reader.Samples(seg))
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		name := fmt.Sprintf("%s#%d", filepath.Base(file), i+1)
		if res.Outcome == trip.FlushWritten {
			fmt.Fprintf(r.out, "%s: %s %s, %s\n", name, humanize.FtoaWithDigits(res.Item.TotalMileage, 2), res.Item.Unit.Abbrev(), res.Outcome)
		} else {
			fmt.Fprintf(r.out, "%s: %s\n", name, res.Outcome)
		}
	}
	return nil
}

// replaySegment feeds the samples one at a time with a speed check after
// each, then parks the vehicle and flushes.
func (r *replayer) replaySegment(ctx context.Context, samples []location.Sample) (trip.FlushResult, error) {
	if len(samples) == 0 {
		return trip.FlushResult{Outcome: trip.FlushNothing}, nil
	}
	for _, s := range samples {
		if err := r.tracker.Locations(ctx, []location.Sample{s}); err != nil {
			return trip.FlushResult{}, err
		}
		if _, err := r.tracker.CheckSpeed(ctx); err != nil {
			return trip.FlushResult{}, err
		}
	}

	parked := samples[len(samples)-1]
	parked.Speed = 0
	parked.When = parked.When.Add(time.Second)
	if err := r.tracker.Locations(ctx, []location.Sample{parked}); err != nil {
		return trip.FlushResult{}, err
	}
	if _, err := r.tracker.CheckSpeed(ctx); err != nil {
		return trip.FlushResult{}, err
	}
	return r.tracker.Flush(ctx)
}
