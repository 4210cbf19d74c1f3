package trip

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"calmh.dev/tripd/internal/geometry"
	"calmh.dev/tripd/internal/location"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/exp/slog"
)

var (
	tripsFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "trip",
		Name:      "flushed_total",
	})
	tripFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "trip",
		Name:      "flush_errors_total",
	})
	tripFlushesPending = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "trip",
		Name:      "flush_no_calculation_total",
	})
	tripDrivingTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "trip",
		Name:      "driving_transitions_total",
	}, []string{"state"})
	tripSnapshotsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tripd",
		Subsystem: "trip",
		Name:      "snapshots_dropped_total",
	})
)

const (
	// DrivingSpeed is 15 km/h in m/s.
	DrivingSpeed       = 4.16667
	SpeedCheckInterval = 5 * time.Second
	FlushInterval      = 3000 * time.Second

	subscriberBufferSize = 16
)

// Store is the transactional datastore trips are written to.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a write transaction. Nothing done through it is visible to
// others unless the function passed to Update returns nil.
type Tx interface {
	// ItemsOfType returns matching items, newest first.
	ItemsOfType(t Type) ([]Item, error)
	Put(item Item) error
}

type Options struct {
	DrivingSpeed float64
	// Zero disables the periodic speed check.
	SpeedCheckInterval time.Duration
	// Zero disables the periodic flush.
	FlushInterval time.Duration
}

func DefaultOptions() Options {
	return Options{
		DrivingSpeed:       DrivingSpeed,
		SpeedCheckInterval: SpeedCheckInterval,
		FlushInterval:      FlushInterval,
	}
}

type Snapshot struct {
	Location       *location.Sample `json:"location,omitempty"`
	Driving        bool             `json:"driving"`
	DistanceMeters float64          `json:"distance_m"`
	SpeedCheck     bool             `json:"speed_check"`
	LastTrip       *Item            `json:"last_trip,omitempty"`
}

type FlushOutcome int

const (
	FlushWritten FlushOutcome = iota
	FlushDriving
	FlushNothing
	FlushNoCalculation
)

func (o FlushOutcome) String() string {
	switch o {
	case FlushWritten:
		return "written"
	case FlushDriving:
		return "driving"
	case FlushNothing:
		return "nothing-to-flush"
	case FlushNoCalculation:
		return "no-calculation"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type FlushResult struct {
	Outcome FlushOutcome
	Item    Item
}

// Tracker decides whether we are driving and accumulates the distance
// covered while we are. All state is owned by the Serve goroutine; the
// exported methods queue work for it and wait for the result.
type Tracker struct {
	store  Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
	newID  func() uuid.UUID
	inbox  chan func()

	// Owned by Serve.
	location    *location.Sample
	previous    *location.Sample
	driving     bool
	distance    float64
	lastTrip    *Item
	speedTicker *time.Ticker

	snapMut sync.Mutex
	snap    Snapshot
	subs    []chan Snapshot
}

func NewTracker(store Store, opts Options, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		opts:   opts,
		logger: logger.With("module", "trip"),
		now:    time.Now,
		newID:  uuid.New,
		inbox:  make(chan func()),
	}
}

func (t *Tracker) String() string {
	return fmt.Sprintf("trip-tracker@%p", t)
}

func (t *Tracker) Serve(ctx context.Context) error {
	var flushC <-chan time.Time
	if t.opts.FlushInterval > 0 {
		flush := time.NewTicker(t.opts.FlushInterval)
		defer flush.Stop()
		flushC = flush.C
	}

	t.startSpeedCheck()
	defer t.stopSpeedCheck()

	for {
		var speedC <-chan time.Time
		if t.speedTicker != nil {
			speedC = t.speedTicker.C
		}

		select {
		case fn := <-t.inbox:
			fn()

		case <-speedC:
			t.checkSpeed()

		case <-flushC:
			_, _ = t.flush(ctx)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Locations implements location.Sink.
func (t *Tracker) Locations(ctx context.Context, samples []location.Sample) error {
	batch := append([]location.Sample(nil), samples...)
	return t.do(ctx, func() { t.handleLocations(batch) })
}

// CheckSpeed runs a speed check now and returns the resulting driving state.
func (t *Tracker) CheckSpeed(ctx context.Context) (bool, error) {
	var driving bool
	if err := t.do(ctx, func() { driving = t.checkSpeed() }); err != nil {
		return false, err
	}
	return driving, nil
}

// Flush runs a flush now.
func (t *Tracker) Flush(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	var ferr error
	if err := t.do(ctx, func() { res, ferr = t.flush(ctx) }); err != nil {
		return FlushResult{}, err
	}
	return res, ferr
}

func (t *Tracker) StartSpeedCheck(ctx context.Context) error {
	return t.do(ctx, t.startSpeedCheck)
}

func (t *Tracker) StopSpeedCheck(ctx context.Context) error {
	return t.do(ctx, t.stopSpeedCheck)
}

func (t *Tracker) Snapshot() Snapshot {
	t.snapMut.Lock()
	defer t.snapMut.Unlock()
	return t.snap
}

// Subscribe returns a channel receiving a snapshot after every state
// change. Snapshots are dropped when the channel is full. Call before
// Serve.
func (t *Tracker) Subscribe() <-chan Snapshot {
	c := make(chan Snapshot, subscriberBufferSize)
	t.snapMut.Lock()
	t.subs = append(t.subs, c)
	t.snapMut.Unlock()
	return c
}

func (t *Tracker) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	msg := func() {
		fn()
		close(done)
	}
	select {
	case t.inbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) handleLocations(samples []location.Sample) {
	if len(samples) == 0 {
		return
	}
	for i := range samples {
		s := samples[i]
		if t.driving && t.previous != nil {
			t.distance += geometry.Distance(t.previous.Lat, t.previous.Lon, s.Lat, s.Lon)
		}
		t.previous = &s
	}
	latest := samples[len(samples)-1]
	t.location = &latest
	t.publish()
}

func (t *Tracker) checkSpeed() bool {
	speed := 0.0
	if t.location != nil && !math.IsNaN(t.location.Speed) {
		speed = t.location.Speed
	}
	driving := speed > t.opts.DrivingSpeed
	if driving != t.driving {
		t.driving = driving
		if driving {
			tripDrivingTransitions.WithLabelValues("driving").Inc()
			t.logger.Info("Started driving", "speed", speed)
		} else {
			tripDrivingTransitions.WithLabelValues("idle").Inc()
			t.logger.Info("Stopped driving", "distance", t.distance)
		}
		t.publish()
	}
	return t.driving
}

func (t *Tracker) flush(ctx context.Context) (FlushResult, error) {
	if t.driving {
		return FlushResult{Outcome: FlushDriving}, nil
	}
	if t.distance <= 0 {
		return FlushResult{Outcome: FlushNothing}, nil
	}

	meters := t.distance
	var created *Item
	err := t.store.Update(ctx, func(tx Tx) error {
		calcs, err := tx.ItemsOfType(TypeNewCalculation)
		if err != nil {
			return err
		}
		if len(calcs) == 0 {
			return nil
		}
		item := NewTrip(t.newID(), t.now(), meters, calcs[0].Unit)
		if err := tx.Put(item); err != nil {
			return err
		}
		created = &item
		return nil
	})
	if err != nil {
		tripFlushErrors.Inc()
		t.logger.Error("Failed to store trip", "distance", meters, "error", err)
		return FlushResult{}, fmt.Errorf("flush: %w", err)
	}
	if created == nil {
		tripFlushesPending.Inc()
		t.logger.Debug("No calculation in progress, keeping distance", "distance", meters)
		return FlushResult{Outcome: FlushNoCalculation}, nil
	}

	t.distance = 0
	t.lastTrip = created
	tripsFlushed.Inc()
	t.logger.Info("Stored trip", "id", created.ID, "mileage", created.TotalMileage, "unit", created.Unit)
	t.publish()
	return FlushResult{Outcome: FlushWritten, Item: *created}, nil
}

func (t *Tracker) startSpeedCheck() {
	if t.speedTicker != nil || t.opts.SpeedCheckInterval <= 0 {
		return
	}
	t.speedTicker = time.NewTicker(t.opts.SpeedCheckInterval)
	t.publish()
}

func (t *Tracker) stopSpeedCheck() {
	if t.speedTicker == nil {
		return
	}
	t.speedTicker.Stop()
	t.speedTicker = nil
	t.publish()
}

func (t *Tracker) publish() {
	snap := Snapshot{
		Driving:        t.driving,
		DistanceMeters: t.distance,
		SpeedCheck:     t.speedTicker != nil,
	}
	if t.location != nil {
		loc := *t.location
		snap.Location = &loc
	}
	if t.lastTrip != nil {
		trip := *t.lastTrip
		snap.LastTrip = &trip
	}

	t.snapMut.Lock()
	defer t.snapMut.Unlock()
	t.snap = snap
	for _, c := range t.subs {
		select {
		case c <- snap:
		default:
			tripSnapshotsDropped.Inc()
		}
	}
}
