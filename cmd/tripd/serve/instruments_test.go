package serve

import (
	"testing"
	"time"
)

func TestMeasurementWindow(t *testing.T) {
	now := time.Date(2023, 4, 12, 12, 0, 0, 0, time.UTC)
	m := measurement{period: time.Minute, now: func() time.Time { return now }}

	if min, med, max := m.MinMedianMax(); min != 0 || med != 0 || max != 0 {
		t.Errorf("empty: %v %v %v", min, med, max)
	}

	for _, v := range []float64{10, 2, 7} {
		m.Observe(v)
		now = now.Add(10 * time.Second)
	}
	if min, med, max := m.MinMedianMax(); min != 2 || med != 7 || max != 10 {
		t.Errorf("got %v %v %v", min, med, max)
	}

	// The first two fall out of the window.
	now = now.Add(45 * time.Second)
	m.Observe(5)
	if min, med, max := m.MinMedianMax(); min != 5 || med != 7 || max != 7 {
		t.Errorf("got %v %v %v", min, med, max)
	}
}
