package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"calmh.dev/tripd/internal/location"
	"calmh.dev/tripd/internal/trip"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/exp/slog"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "trips.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestItemsOfTypeNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	base := time.Date(2023, 4, 12, 10, 0, 0, 0, time.UTC)

	err := s.Update(ctx, func(tx trip.Tx) error {
		for i, typ := range []trip.Type{trip.TypeNewCalculation, trip.TypeNewTrip, trip.TypeNewCalculation, trip.TypeRefuel} {
			item := trip.Item{ID: uuid.New(), Type: typ, Timestamp: base.Add(time.Duration(i) * time.Hour)}
			if err := tx.Put(item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	var calcs []trip.Item
	err = s.Update(ctx, func(tx trip.Tx) error {
		calcs, err = tx.ItemsOfType(trip.TypeNewCalculation)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(calcs) != 2 {
		t.Fatalf("%d calculations, want 2", len(calcs))
	}
	if !calcs[0].Timestamp.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("first calculation at %v, want newest", calcs[0].Timestamp)
	}

	all, err := s.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].Type != trip.TypeRefuel {
		t.Errorf("items %+v", all)
	}
}

func TestUpdateRollsBack(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx trip.Tx) error {
		if err := tx.Put(trip.NewTrip(uuid.New(), time.Now(), 12000, trip.UnitMetric)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error %v", err)
	}

	items, err := s.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("rolled back item visible: %+v", items)
	}
}

func TestUpdateCancelled(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Update(ctx, func(trip.Tx) error { called = true; return nil })
	if !errors.Is(err, context.Canceled) || called {
		t.Errorf("error %v, called %v", err, called)
	}
}

func TestUnknownTypeIsDecodeError(t *testing.T) {
	s := openTemp(t)
	id := uuid.New()
	err := s.db.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(itemsBucket).Put(id[:], []byte(`{"id":"`+id.String()+`","type":"fill-up","unit":"metric"}`))
	})
	if err != nil {
		t.Fatal(err)
	}

	err = s.Update(context.Background(), func(tx trip.Tx) error {
		_, err := tx.ItemsOfType(trip.TypeNewCalculation)
		return err
	})
	if !errors.Is(err, trip.ErrUnknownType) {
		t.Errorf("error %v, want unknown type", err)
	}
}

func TestDeleteType(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	now := time.Now()
	err := s.Update(ctx, func(tx trip.Tx) error {
		_ = tx.Put(trip.NewCalculation(uuid.New(), now, trip.UnitMetric))
		_ = tx.Put(trip.NewCalculation(uuid.New(), now, trip.UnitImperial))
		return tx.Put(trip.NewTrip(uuid.New(), now, 1000, trip.UnitMetric))
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteType(ctx, trip.TypeNewCalculation)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	items, err := s.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Type != trip.TypeNewTrip {
		t.Errorf("remaining %+v", items)
	}
}

func TestTrackerFlushIntoStore(t *testing.T) {
	s := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := s.Update(ctx, func(tx trip.Tx) error {
		return tx.Put(trip.NewCalculation(uuid.New(), time.Now(), trip.UnitImperial))
	})
	if err != nil {
		t.Fatal(err)
	}

	opts := trip.DefaultOptions()
	opts.SpeedCheckInterval = 0
	opts.FlushInterval = 0
	tr := trip.NewTracker(s, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go tr.Serve(ctx)

	for _, smp := range []location.Sample{
		{Lat: 59.30, Lon: 18.0, Speed: 20},
		{Lat: 59.40, Lon: 18.0, Speed: 20},
		{Lat: 59.40, Lon: 18.0, Speed: 0},
	} {
		if err := tr.Locations(ctx, []location.Sample{smp}); err != nil {
			t.Fatal(err)
		}
		if _, err := tr.CheckSpeed(ctx); err != nil {
			t.Fatal(err)
		}
	}
	res, err := tr.Flush(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != trip.FlushWritten {
		t.Fatalf("outcome %v", res.Outcome)
	}

	items, err := s.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var trips []trip.Item
	for _, it := range items {
		if it.Type == trip.TypeNewTrip {
			trips = append(trips, it)
		}
	}
	if len(trips) != 1 {
		t.Fatalf("%d trips", len(trips))
	}
	// 0.1 degrees of latitude is about 11.1 km, 6.9 mi.
	if trips[0].TotalMileage < 6.8 || trips[0].TotalMileage > 7.0 || trips[0].Unit != trip.UnitImperial {
		t.Errorf("trip %+v", trips[0])
	}
}

func TestCalculationLifecycle(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	if n, err := s.StopCalculation(ctx); err != nil || n != 0 {
		t.Fatalf("stop with none running: %d, %v", n, err)
	}

	item, err := s.StartCalculation(ctx, trip.UnitImperial)
	if err != nil {
		t.Fatal(err)
	}
	if item.Type != trip.TypeNewCalculation || item.Unit != trip.UnitImperial {
		t.Errorf("started %+v", item)
	}

	items, err := s.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Fatalf("items %+v", items)
	}

	if n, err := s.StopCalculation(ctx); err != nil || n != 1 {
		t.Fatalf("stop: %d, %v", n, err)
	}
	if items, _ := s.Items(ctx); len(items) != 0 {
		t.Errorf("%d items left", len(items))
	}
}
