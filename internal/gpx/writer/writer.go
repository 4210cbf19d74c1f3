// Package writer records GPX tracks of drives.
package writer

import (
	"fmt"
	"io"
	"time"

	"calmh.dev/tripd/internal/location"
	"golang.org/x/exp/slog"
)

const (
	Namespace    = "tripd"
	NamespaceURL = "https://calmh.dev/tripd/"
)

// DriveGPX writes one GPX file per drive. A file is opened on the first
// sample taken while driving and closed when we stop.
type DriveGPX struct {
	Opener         func(time.Time) (io.WriteCloser, error)
	SampleInterval time.Duration
	Logger         *slog.Logger

	destination io.WriteCloser
	last        time.Time
}

func point(s location.Sample) string {
	ext := ""
	if s.Speed >= 0 {
		ext = fmt.Sprintf("<extensions><%s:speed>%.2f</%s:speed></extensions>", Namespace, s.Speed, Namespace)
	}
	return fmt.Sprintf(`<trkpt lat="%f" lon="%f"><time>%s</time>%s</trkpt>`, s.Lat, s.Lon, s.When.UTC().Format(time.RFC3339), ext)
}

// Sample records s if we are driving and the sample interval has passed
// since the last recorded point. It returns whether s was recorded.
func (g *DriveGPX) Sample(s location.Sample, driving bool) bool {
	if !driving {
		if g.destination != nil {
			g.stopRecording()
		}
		return false
	}

	if g.destination == nil {
		if !g.startRecording(s.When) {
			return false
		}
	} else if s.When.Sub(g.last) < g.SampleInterval {
		return false
	}

	g.record(s)
	g.last = s.When
	return true
}

// Recording returns whether a track file is open.
func (g *DriveGPX) Recording() bool {
	return g.destination != nil
}

func (g *DriveGPX) Flush() error {
	if g.destination == nil {
		return nil
	}
	g.stopRecording()
	return nil
}

func (g *DriveGPX) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}

func (g *DriveGPX) startRecording(t time.Time) bool {
	fd, err := g.Opener(t)
	if err != nil {
		g.logger().Error("Opening GPX file", "error", err)
		return false
	}
	g.destination = fd

	header := fmt.Sprintf(`<gpx version="1.1" creator="tripd" xmlns="http://www.topografix.com/GPX/1/1" xmlns:%s="%s"><trk><trkseg>`, Namespace, NamespaceURL)
	if _, err := fmt.Fprintln(g.destination, header); err != nil {
		g.logger().Error("Writing GPX file", "error", err)
	}
	return true
}

func (g *DriveGPX) record(s location.Sample) {
	if _, err := fmt.Fprintln(g.destination, point(s)); err != nil {
		g.logger().Error("Writing GPX file", "error", err)
	}
}

func (g *DriveGPX) stopRecording() {
	footer := `</trkseg></trk></gpx>`
	if _, err := fmt.Fprintln(g.destination, footer); err != nil {
		g.logger().Error("Writing GPX file", "error", err)
	}
	if err := g.destination.Close(); err != nil {
		g.logger().Error("Closing GPX file", "error", err)
	}
	g.destination = nil
	g.last = time.Time{}
}
