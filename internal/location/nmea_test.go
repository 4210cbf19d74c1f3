package location

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
)

const (
	rmcMoving  = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,120423,003.1,W*63"
	rmcStopped = "$GPRMC,123524,A,4807.100,N,01131.100,E,000.0,084.4,120423,003.1,W*62"
	rmcNoFix   = "$GPRMC,123529,V,4807.100,N,01131.100,E,,,120423,003.1,W*70"
	gga        = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
)

type recordingDelegate struct {
	statuses []Authorization
	batches  [][]Sample
	errors   []error
}

func (d *recordingDelegate) AuthorizationChanged(status Authorization) {
	d.statuses = append(d.statuses, status)
}

func (d *recordingDelegate) LocationsUpdated(samples []Sample) {
	d.batches = append(d.batches, samples)
}

func (d *recordingDelegate) Failed(err error) {
	d.errors = append(d.errors, err)
}

func TestSampleFromRMC(t *testing.T) {
	sent, err := nmea.Parse(rmcMoving)
	if err != nil {
		t.Fatal(err)
	}
	s, err := SampleFromRMC(sent.(nmea.RMC))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(s.Lat-48.1173) > 1e-4 || math.Abs(s.Lon-11.516667) > 1e-4 {
		t.Errorf("position %f,%f", s.Lat, s.Lon)
	}
	if math.Abs(s.Speed-11.5236) > 1e-3 {
		t.Errorf("speed %f m/s, want 11.52", s.Speed)
	}
	want := time.Date(2023, 4, 12, 12, 35, 19, 0, time.UTC)
	if !s.When.Equal(want) {
		t.Errorf("time %v, want %v", s.When, want)
	}

	sent, err = nmea.Parse(rmcNoFix)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := SampleFromRMC(sent.(nmea.RMC)); !errors.Is(err, ErrNoFix) {
		t.Errorf("invalid fix gave %v", err)
	}
}

func TestProviderDelivery(t *testing.T) {
	p := NewNMEAProvider(nil, AuthorizedAlways)
	d := &recordingDelegate{}
	p.SetDelegate(d)

	p.handleLine(rmcMoving)
	if len(d.batches) != 0 {
		t.Fatal("delivered without being asked")
	}

	p.RequestLocation()
	p.handleLine(gga)
	p.handleLine(rmcMoving)
	p.handleLine(rmcStopped)
	if len(d.batches) != 1 {
		t.Fatalf("one-shot delivered %d batches", len(d.batches))
	}

	p.StartUpdatingLocation()
	p.handleLine(rmcStopped)
	p.handleLine("$GPRMC,garbage*00")
	p.handleLine(rmcNoFix)
	if len(d.batches) != 2 {
		t.Fatalf("%d batches, want 2", len(d.batches))
	}
	if d.batches[1][0].Speed != 0 {
		t.Errorf("stopped sample has speed %f", d.batches[1][0].Speed)
	}
	if len(d.errors) != 1 || !errors.Is(d.errors[0], ErrNoFix) {
		t.Errorf("errors %v", d.errors)
	}

	p.StopUpdatingLocation()
	p.handleLine(rmcMoving)
	if len(d.batches) != 2 {
		t.Error("delivered after stop")
	}
}

func TestProviderAuthorization(t *testing.T) {
	cases := []struct {
		grant         Authorization
		always, inUse Authorization
	}{
		{AuthorizedAlways, AuthorizedAlways, AuthorizedWhenInUse},
		{AuthorizedWhenInUse, AuthorizedWhenInUse, AuthorizedWhenInUse},
		{NotDetermined, NotDetermined, AuthorizedWhenInUse},
		{Denied, Denied, Denied},
		{Restricted, Restricted, Restricted},
	}

	for _, c := range cases {
		p := NewNMEAProvider(nil, c.grant)
		d := &recordingDelegate{}
		p.SetDelegate(d)
		p.RequestAlwaysAuthorization()
		p.RequestWhenInUseAuthorization()
		if len(d.statuses) != 2 || d.statuses[0] != c.always || d.statuses[1] != c.inUse {
			t.Errorf("grant %v: got %v", c.grant, d.statuses)
		}
	}
}

func TestProviderServe(t *testing.T) {
	lines := make(chan string)
	p := NewNMEAProvider(lines, AuthorizedAlways)
	d := &recordingDelegate{}
	p.SetDelegate(d)
	p.StartUpdatingLocation()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	lines <- rmcMoving
	lines <- rmcStopped
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("serve returned %v", err)
	}
	// The second send only completes once the first line is handled.
	if len(d.batches) < 1 {
		t.Errorf("%d batches", len(d.batches))
	}
}

func TestParseAuthorization(t *testing.T) {
	for a := range authorizationNames {
		got, err := ParseAuthorization(a.String())
		if err != nil || got != a {
			t.Errorf("%v: got %v, %v", a, got, err)
		}
	}
	if _, err := ParseAuthorization("maybe"); !errors.Is(err, ErrUnknownAuthorization) {
		t.Errorf("maybe: %v", err)
	}
}
