package geometry

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Distance returns the great-circle distance between two positions, in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

// Speed returns the average speed in m/s for covering meters in dt, or -1
// when dt is not positive.
func Speed(meters float64, dt time.Duration) float64 {
	if dt <= 0 {
		return -1
	}
	return meters / dt.Seconds()
}
