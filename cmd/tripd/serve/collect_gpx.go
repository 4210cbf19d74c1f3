package serve

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"calmh.dev/tripd/internal/gpx/writer"
	"calmh.dev/tripd/internal/trip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/slog"
)

var (
	gpxPositionsSampled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "gpx",
		Name:      "sampled_positions_total",
	})
	gpxPositionsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "gpx",
		Name:      "record_positions_total",
	})
	gpxFilesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "gpx",
		Name:      "files_created_total",
	})
)

// gpxCollector records a GPX track for every drive, following the
// tracker's driving state.
type gpxCollector struct {
	c <-chan trip.Snapshot
	w *writer.DriveGPX
}

func collectGPX(c <-chan trip.Snapshot, w *writer.DriveGPX) *gpxCollector {
	return &gpxCollector{
		c: c,
		w: w,
	}
}

func (c *gpxCollector) String() string {
	return fmt.Sprintf("gpx-collector@%p", c)
}

func (c *gpxCollector) Serve(ctx context.Context) error {
	defer c.w.Flush()

	var lastFix time.Time
	lastDriving := false

	for {
		select {
		case snap := <-c.c:
			loc := snap.Location
			if loc == nil || (loc.When.Equal(lastFix) && snap.Driving == lastDriving) {
				continue
			}
			lastFix, lastDriving = loc.When, snap.Driving

			gpxPositionsSampled.Inc()
			if c.w.Sample(*loc, snap.Driving) {
				gpxPositionsRecorded.Inc()
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func newGPXFile(logger *slog.Logger, pattern string, t time.Time) (io.WriteCloser, error) {
	name := t.UTC().Format(pattern)
	logger.Info("Creating new GPX track", "name", name)
	gpxFilesCreatedTotal.Inc()
	_ = os.MkdirAll(filepath.Dir(name), 0o755)
	return os.Create(name)
}
