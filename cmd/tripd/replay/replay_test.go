package replay

import (
	"bytes"
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"calmh.dev/tripd/internal/store"
	"calmh.dev/tripd/internal/trip"
	"golang.org/x/exp/slog"
)

const drive = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" xmlns="http://www.topografix.com/GPX/1/1">
  <trk><trkseg>
    <trkpt lat="0" lon="0.00"><time>2023-04-12T12:00:00Z</time></trkpt>
    <trkpt lat="0" lon="0.01"><time>2023-04-12T12:01:00Z</time></trkpt>
    <trkpt lat="0" lon="0.02"><time>2023-04-12T12:02:00Z</time></trkpt>
  </trkseg></trk>
  <trk><trkseg>
    <trkpt lat="0" lon="0.02"><time>2023-04-12T13:00:00Z</time><speed>0</speed></trkpt>
    <trkpt lat="0" lon="0.02"><time>2023-04-12T13:05:00Z</time><speed>0</speed></trkpt>
  </trkseg></trk>
</gpx>
`

func TestReplay(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "drive.gpx")
	if err := os.WriteFile(file, []byte(drive), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := store.Open(filepath.Join(dir, "trips.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := db.StartCalculation(ctx, trip.UnitMetric); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := trip.NewTracker(db, trip.Options{DrivingSpeed: trip.DrivingSpeed}, logger)
	go func() { _ = tr.Serve(ctx) }()

	var out bytes.Buffer
	r := &replayer{tracker: tr, out: &out}
	if err := r.replayFile(ctx, file); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("output:\n%s", out.String())
	}
	// Two legs of 0.01 degrees at the equator.
	if !strings.HasPrefix(lines[0], "drive.gpx#1: 2.23 km, written") {
		t.Errorf("first track: %q", lines[0])
	}
	if lines[1] != "drive.gpx#2: nothing-to-flush" {
		t.Errorf("second track: %q", lines[1])
	}

	items, err := db.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var trips []trip.Item
	for _, item := range items {
		if item.Type == trip.TypeNewTrip {
			trips = append(trips, item)
		}
	}
	if len(trips) != 1 || math.Abs(trips[0].TotalMileage-2.2264) > 0.001 {
		t.Errorf("stored trips %+v", trips)
	}
}
