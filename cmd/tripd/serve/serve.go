package serve

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"calmh.dev/tripd/internal/control"
	"calmh.dev/tripd/internal/gpx/writer"
	"calmh.dev/tripd/internal/location"
	"calmh.dev/tripd/internal/store"
	"calmh.dev/tripd/internal/trip"
	"github.com/gin-gonic/gin"
	"github.com/thejerf/suture/v4"
	"golang.org/x/exp/slog"
)

type CLI struct {
	InputTCPConnect []string `help:"TCP connect input addresses (e.g., 172.16.1.2:2000)" placeholder:"ADDR" group:"Input"`
	InputUDPListen  []int    `help:"UDP broadcast input listen ports (e.g., 2000)" placeholder:"PORT" group:"Input"`
	InputHTTPListen []int    `help:"HTTP input listen ports (e.g., 8080)" placeholder:"PORT" group:"Input"`
	InputSerial     []string `help:"Serial port inputs (e.g., /dev/ttyUSB0)" placeholder:"DEV" group:"Input"`
	InputStdin      bool     `help:"Read NMEA from standard input" group:"Input"`

	Authorization string `default:"always" enum:"always,when-in-use,not-determined,denied,restricted" help:"Location authorization granted to the receiver" group:"Location"`

	Database           string        `default:"tripd.db" env:"TRIPD_DATABASE" help:"Trip database path" group:"Trips"`
	DrivingSpeed       float64       `default:"4.16667" help:"Speed above which we are driving (m/s)" group:"Trips"`
	SpeedCheckInterval time.Duration `default:"5s" help:"How often to decide whether we are driving" group:"Trips"`
	FlushInterval      time.Duration `default:"50m" help:"How often to store the accumulated distance as a trip" group:"Trips"`

	OutputGPXPattern        string        `help:"Record a GPX track of every drive; file naming pattern, see https://golang.org/pkg/time/#Time.Format (e.g., drive-20060102-150405.gpx)" group:"GPX File Output"`
	OutputGPXSampleInterval time.Duration `help:"Time between track points" default:"10s" group:"GPX File Output"`

	StateTCPListen string `default:":2020" help:"TCP listen address for JSON state updates" placeholder:"ADDR" group:"State output"`

	HTTPListen string `default:"127.0.0.1:9141" env:"TRIPD_HTTP_LISTEN" help:"HTTP listen address for Prometheus metrics and the control API" placeholder:"ADDR" group:"Metrics"`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	logger = logger.With("module", "serve")

	grant, err := location.ParseAuthorization(cli.Authorization)
	if err != nil {
		return err
	}

	db, err := store.Open(cli.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Opened trip database", "path", cli.Database)

	sup := suture.New("main", suture.Spec{
		EventHook: func(ev suture.Event) {
			logger.Error(ev.String())
		},
	})

	input := make(chan string, 4096)

	if cli.InputStdin {
		logger.Info("Reading NMEA from stdin")
		sup.Add(linesInto(input, os.Stdin, "stdin"))
	}

	for _, addr := range cli.InputTCPConnect {
		logger.Info("Reading NMEA from TCP", "addr", addr)
		sup.Add(readTCPInto(input, addr))
	}

	for _, port := range cli.InputUDPListen {
		logger.Info("Reading NMEA from UDP", "port", port)
		sup.Add(readUDPInto(input, port))
	}

	for _, port := range cli.InputHTTPListen {
		logger.Info("Reading NMEA from HTTP POST", "port", port)
		sup.Add(readHTTPInto(input, port))
	}

	for _, dev := range cli.InputSerial {
		logger.Info("Reading NMEA from serial device", "dev", dev)
		sup.Add(readSerialInto(input, dev))
	}

	tracker := trip.NewTracker(db, trip.Options{
		DrivingSpeed:       cli.DrivingSpeed,
		SpeedCheckInterval: cli.SpeedCheckInterval,
		FlushInterval:      cli.FlushInterval,
	}, logger)
	instruments := &instrumentsCollector{c: tracker.Subscribe()}
	var states <-chan trip.Snapshot
	if cli.StateTCPListen != "" {
		states = tracker.Subscribe()
	}
	if cli.OutputGPXPattern != "" {
		gpx := &writer.DriveGPX{
			Opener: func(t time.Time) (io.WriteCloser, error) {
				return newGPXFile(logger, cli.OutputGPXPattern, t)
			},
			SampleInterval: cli.OutputGPXSampleInterval,
			Logger:         logger,
		}
		logger.Info("Collecting GPX tracks", "pattern", cli.OutputGPXPattern)
		sup.Add(collectGPX(tracker.Subscribe(), gpx))
	}
	sup.Add(tracker)
	sup.Add(instruments)

	provider := location.NewNMEAProvider(input, grant)
	sup.Add(provider)
	manager := location.NewManager(provider, tracker, logger)

	if cli.StateTCPListen != "" {
		logger.Info("Sending state to incoming connections", "addr", cli.StateTCPListen)
		sup.Add(broadcastState(states, manager, cli.StateTCPListen))
	}

	if cli.HTTPListen != "" {
		url := &url.URL{Scheme: "http", Host: cli.HTTPListen, Path: "/metrics"}
		logger.Info("Exporting instruments and metrics", "url", url.String())
		gin.SetMode(gin.ReleaseMode)
		router := control.NewRouter(control.NewHandler(db, logger))
		sup.Add(&httpListener{addr: cli.HTTPListen, handler: router})
	}

	manager.RequestAuthorization()
	if status, _ := manager.Authorization(); !manager.Enabled() {
		logger.Warn("Location updates are not enabled", "authorization", status)
	}

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
