package location

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/slog"
)

var (
	locationUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "location",
		Name:      "updates_total",
	})
	locationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "location",
		Name:      "errors_total",
	})
	locationDeliveryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "location",
		Name:      "delivery_errors_total",
	})
	locationEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "location",
		Name:      "updates_enabled",
	})
)

// Sink receives location batches accepted by the Manager.
type Sink interface {
	Locations(ctx context.Context, samples []Sample) error
}

const sinkTimeout = 5 * time.Second

// Manager reacts to authorization changes by starting or stopping the
// provider's update stream and hands location batches on to a Sink.
type Manager struct {
	provider Provider
	sink     Sink
	logger   *slog.Logger

	mut      sync.Mutex
	status   Authorization
	known    bool
	enabled  bool
	location *Sample
}

func NewManager(provider Provider, sink Sink, logger *slog.Logger) *Manager {
	m := &Manager{
		provider: provider,
		sink:     sink,
		logger:   logger.With("module", "location"),
	}
	provider.SetDelegate(m)
	return m
}

func (m *Manager) RequestAuthorization() {
	m.provider.RequestAlwaysAuthorization()
}

func (m *Manager) Enable() {
	m.mut.Lock()
	if m.enabled {
		m.mut.Unlock()
		return
	}
	m.enabled = true
	m.mut.Unlock()

	locationEnabled.Set(1)
	m.logger.Info("Starting location updates")
	m.provider.StartUpdatingLocation()
}

func (m *Manager) Disable() {
	m.mut.Lock()
	if !m.enabled {
		m.mut.Unlock()
		return
	}
	m.enabled = false
	m.mut.Unlock()

	locationEnabled.Set(0)
	m.logger.Info("Stopping location updates")
	m.provider.StopUpdatingLocation()
}

func (m *Manager) AuthorizationChanged(status Authorization) {
	switch status {
	case AuthorizedWhenInUse, AuthorizedAlways:
		m.setStatus(status)
		m.provider.RequestLocation()
		m.Enable()

	case Restricted, Denied:
		m.setStatus(status)
		m.Disable()

	case NotDetermined:
		m.setStatus(status)
		m.provider.RequestWhenInUseAuthorization()

	default:
		m.logger.Debug("Ignoring authorization status", "status", status)
	}
}

func (m *Manager) setStatus(status Authorization) {
	m.mut.Lock()
	m.status = status
	m.known = true
	m.mut.Unlock()
	m.logger.Info("Location authorization changed", "status", status)
}

func (m *Manager) LocationsUpdated(samples []Sample) {
	if len(samples) == 0 {
		return
	}
	locationUpdates.Add(float64(len(samples)))

	latest := samples[len(samples)-1]
	m.mut.Lock()
	m.location = &latest
	m.mut.Unlock()
	m.logger.Debug("Location updated", "location", latest)

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := m.sink.Locations(ctx, samples); err != nil {
		locationDeliveryErrors.Inc()
		m.logger.Warn("Dropping location update", "error", err)
	}
}

func (m *Manager) Failed(err error) {
	locationErrors.Inc()
	m.logger.Warn("Location service error", "error", err)
}

// Authorization returns the last recorded status and whether one has
// been recorded at all.
func (m *Manager) Authorization() (Authorization, bool) {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.status, m.known
}

func (m *Manager) Location() (Sample, bool) {
	m.mut.Lock()
	defer m.mut.Unlock()
	if m.location == nil {
		return Sample{}, false
	}
	return *m.location, true
}

func (m *Manager) Enabled() bool {
	m.mut.Lock()
	defer m.mut.Unlock()
	return m.enabled
}
