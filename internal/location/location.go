package location

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
)

// Sample is a single position fix. Speed is in meters per second; a
// negative value means the speed is unknown.
type Sample struct {
	Lat   float64   `json:"lat"`
	Lon   float64   `json:"lon"`
	When  time.Time `json:"when"`
	Speed float64   `json:"speed_mps"`
}

func (s Sample) Point() orb.Point {
	return orb.Point{s.Lon, s.Lat}
}

func (s Sample) String() string {
	return fmt.Sprintf("%.5f,%.5f @ %.1f m/s (%s)", s.Lat, s.Lon, s.Speed, s.When.Format(time.RFC3339))
}

type Authorization int

const (
	NotDetermined Authorization = iota
	Restricted
	Denied
	AuthorizedAlways
	AuthorizedWhenInUse
)

var ErrUnknownAuthorization = errors.New("unknown authorization status")

var authorizationNames = map[Authorization]string{
	NotDetermined:       "not-determined",
	Restricted:          "restricted",
	Denied:              "denied",
	AuthorizedAlways:    "always",
	AuthorizedWhenInUse: "when-in-use",
}

func (a Authorization) String() string {
	if s, ok := authorizationNames[a]; ok {
		return s
	}
	return fmt.Sprintf("authorization(%d)", int(a))
}

func (a Authorization) MarshalText() ([]byte, error) {
	s, ok := authorizationNames[a]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAuthorization, int(a))
	}
	return []byte(s), nil
}

func (a *Authorization) UnmarshalText(text []byte) error {
	v, err := ParseAuthorization(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func ParseAuthorization(s string) (Authorization, error) {
	for a, name := range authorizationNames {
		if name == s {
			return a, nil
		}
	}
	return NotDetermined, fmt.Errorf("%w: %q", ErrUnknownAuthorization, s)
}

// Provider is the location service the Manager drives. Results are
// delivered to the Delegate set with SetDelegate.
type Provider interface {
	SetDelegate(d Delegate)
	RequestAlwaysAuthorization()
	RequestWhenInUseAuthorization()
	RequestLocation()
	StartUpdatingLocation()
	StopUpdatingLocation()
}

type Delegate interface {
	AuthorizationChanged(status Authorization)
	LocationsUpdated(samples []Sample)
	Failed(err error)
}
