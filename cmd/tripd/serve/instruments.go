package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"calmh.dev/tripd/internal/trip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gpsSpeed = newLiveGauge(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "instruments",
		Name:      "gps_speed_mps",
	}))
	gpsSpeedMed = newLiveGauge(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "instruments",
		Name:      "gps_speed_median_mps",
	}))
	gpsSpeedMax = newLiveGauge(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "instruments",
		Name:      "gps_speed_max_mps",
	}))
	gpsSpeedMin = newLiveGauge(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "instruments",
		Name:      "gps_speed_min_mps",
	}))

	tripDistance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "instruments",
		Name:      "trip_distance_m",
	})
	tripDriving = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "instruments",
		Name:      "driving",
	})

	position = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tripd",
		Subsystem: "instruments",
		Name:      "gps_position",
	}, []string{"axis"})
)

// instrumentsCollector turns tracker snapshots into gauges. The position
// and speed gauges disappear when no fix has arrived for a while.
type instrumentsCollector struct {
	c <-chan trip.Snapshot
}

func (l *instrumentsCollector) String() string {
	return fmt.Sprintf("instruments-collector@%p", l)
}

func (l *instrumentsCollector) Serve(ctx context.Context) error {
	const instrumentRetention = time.Minute
	positionTimeout := time.NewTimer(instrumentRetention)
	defer positionTimeout.Stop()
	positionRegistered := false
	defer func() {
		if positionRegistered {
			prometheus.Unregister(position)
		}
	}()

	speedOverTime := measurement{period: time.Minute}
	var lastFix time.Time

	for {
		select {
		case snap := <-l.c:
			tripDistance.Set(snap.DistanceMeters)
			if snap.Driving {
				tripDriving.Set(1)
			} else {
				tripDriving.Set(0)
			}

			loc := snap.Location
			if loc == nil || loc.When.Equal(lastFix) {
				continue
			}
			lastFix = loc.When

			position.WithLabelValues("lat").Set(loc.Lat)
			position.WithLabelValues("lon").Set(loc.Lon)
			if !positionRegistered {
				_ = prometheus.Register(position)
				positionRegistered = true
			}
			positionTimeout.Reset(instrumentRetention)

			if loc.Speed >= 0 {
				gpsSpeed.Set(loc.Speed)
				speedOverTime.Observe(loc.Speed)
				min, med, max := speedOverTime.MinMedianMax()
				gpsSpeedMin.Set(min)
				gpsSpeedMed.Set(med)
				gpsSpeedMax.Set(max)
			}

		case <-positionTimeout.C:
			if positionRegistered {
				prometheus.Unregister(position)
				positionRegistered = false
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// httpListener serves the metrics endpoint and the control API.
type httpListener struct {
	addr    string
	handler http.Handler
}

func (l *httpListener) String() string {
	return fmt.Sprintf("http-listener(%s)@%p", l.addr, l)
}

func (l *httpListener) Serve(ctx context.Context) error {
	list, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: l.handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.Serve(list)
}

type measurement struct {
	values []value
	period time.Duration
	now    func() time.Time
}

type value struct {
	t time.Time
	v float64
}

func (m *measurement) Observe(v float64) {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	t := now()
	m.values = append(m.values, value{t, v})
	for len(m.values) > 0 && t.Sub(m.values[0].t) > m.period {
		m.values = m.values[1:]
	}
}

func (m *measurement) sortedValues() []float64 {
	var values []float64
	for _, v := range m.values {
		values = append(values, v.v)
	}
	sort.Float64s(values)
	return values
}

func (m *measurement) MinMedianMax() (float64, float64, float64) {
	values := m.sortedValues()
	if len(values) == 0 {
		return 0, 0, 0
	}
	return values[0], values[len(values)/2], values[len(values)-1]
}

type liveGauge struct {
	gauge      prometheus.Gauge
	mut        sync.Mutex
	unregister *time.Timer
}

func newLiveGauge(gauge prometheus.Gauge) *liveGauge {
	return &liveGauge{
		gauge: gauge,
	}
}

const gaugeLifeTime = 15 * time.Second

func (g *liveGauge) Set(v float64) {
	g.gauge.Set(v)

	g.mut.Lock()
	defer g.mut.Unlock()

	if g.unregister == nil {
		_ = prometheus.Register(g.gauge)
		g.unregister = time.AfterFunc(gaugeLifeTime, func() {
			g.mut.Lock()
			defer g.mut.Unlock()
			prometheus.Unregister(g.gauge)
			g.unregister = nil
		})
	} else {
		g.unregister.Reset(gaugeLifeTime)
	}
}
