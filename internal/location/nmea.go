package location

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	nmeaInputMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "nmea",
		Name:      "input_messages_total",
	})
	nmeaBadMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "nmea",
		Name:      "bad_messages_total",
	})
	nmeaUnsupportedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "nmea",
		Name:      "unsupported_messages_total",
	})
	nmeaFixesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "nmea",
		Name:      "fixes_delivered_total",
	})
)

// ErrNoFix is reported when the receiver says its position is invalid.
var ErrNoFix = errors.New("no valid GPS fix")

const knotsToMPS = 1852.0 / 3600.0

// NMEAProvider is a Provider fed by NMEA 0183 sentences. Authorization
// requests resolve immediately to the configured grant, as a receiver
// wired to the machine needs no user consent.
type NMEAProvider struct {
	lines <-chan string
	grant Authorization

	mut      sync.Mutex
	delegate Delegate
	updating bool
	oneShot  bool
}

func NewNMEAProvider(lines <-chan string, grant Authorization) *NMEAProvider {
	return &NMEAProvider{lines: lines, grant: grant}
}

func (p *NMEAProvider) String() string {
	return fmt.Sprintf("nmea-location-provider(%s)@%p", p.grant, p)
}

func (p *NMEAProvider) SetDelegate(d Delegate) {
	p.mut.Lock()
	p.delegate = d
	p.mut.Unlock()
}

func (p *NMEAProvider) RequestAlwaysAuthorization() {
	p.report(p.grant)
}

func (p *NMEAProvider) RequestWhenInUseAuthorization() {
	switch p.grant {
	case NotDetermined, AuthorizedAlways:
		p.report(AuthorizedWhenInUse)
	default:
		p.report(p.grant)
	}
}

func (p *NMEAProvider) RequestLocation() {
	p.mut.Lock()
	p.oneShot = true
	p.mut.Unlock()
}

func (p *NMEAProvider) StartUpdatingLocation() {
	p.mut.Lock()
	p.updating = true
	p.mut.Unlock()
}

func (p *NMEAProvider) StopUpdatingLocation() {
	p.mut.Lock()
	p.updating = false
	p.mut.Unlock()
}

func (p *NMEAProvider) report(status Authorization) {
	if d := p.currentDelegate(); d != nil {
		d.AuthorizationChanged(status)
	}
}

func (p *NMEAProvider) currentDelegate() Delegate {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.delegate
}

func (p *NMEAProvider) Serve(ctx context.Context) error {
	for {
		select {
		case line := <-p.lines:
			p.handleLine(line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *NMEAProvider) handleLine(line string) {
	nmeaInputMessages.Inc()
	sent, err := nmea.Parse(line)
	if err != nil {
		if strings.Contains(err.Error(), "not supported") {
			nmeaUnsupportedMessages.Inc()
			return
		}
		nmeaBadMessages.Inc()
		return
	}
	if sent.DataType() != nmea.TypeRMC {
		return
	}

	// Only deliver when someone asked for it.
	p.mut.Lock()
	d := p.delegate
	wanted := p.updating || p.oneShot
	p.mut.Unlock()
	if d == nil || !wanted {
		return
	}

	sample, err := SampleFromRMC(sent.(nmea.RMC))
	if err != nil {
		d.Failed(err)
		return
	}

	p.mut.Lock()
	p.oneShot = false
	p.mut.Unlock()

	nmeaFixesDelivered.Inc()
	d.LocationsUpdated([]Sample{sample})
}

// SampleFromRMC converts a recommended minimum sentence into a Sample.
func SampleFromRMC(rmc nmea.RMC) (Sample, error) {
	if rmc.Validity != nmea.ValidRMC {
		return Sample{}, ErrNoFix
	}
	when := time.Date(rmc.Date.YY+2000, time.Month(rmc.Date.MM), rmc.Date.DD, rmc.Time.Hour, rmc.Time.Minute, rmc.Time.Second, rmc.Time.Millisecond*int(time.Millisecond), time.UTC)
	return Sample{
		Lat:   rmc.Latitude,
		Lon:   rmc.Longitude,
		When:  when,
		Speed: rmc.Speed * knotsToMPS,
	}, nil
}
