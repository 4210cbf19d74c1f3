package trip

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type int

const (
	TypeNewTrip Type = iota + 1
	TypeRefuel
	TypeNewCalculation
)

var (
	ErrUnknownType = errors.New("unknown item type")
	ErrUnknownUnit = errors.New("unknown unit")
)

var typeNames = map[Type]string{
	TypeNewTrip:        "new-trip",
	TypeRefuel:         "refuel",
	TypeNewCalculation: "new-calculation",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(%d)", int(t))
}

func (t Type) MarshalText() ([]byte, error) {
	s, ok := typeNames[t]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	return []byte(s), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	for k, v := range typeNames {
		if v == string(text) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownType, text)
}

// Unit is the distance unit the user wants mileage recorded in.
type Unit int

const (
	UnitMetric Unit = iota
	UnitImperial
)

const (
	metersPerKilometer = 1000.0
	milesPerMeter      = 0.000621371
)

func ParseUnit(s string) (Unit, error) {
	switch s {
	case "metric":
		return UnitMetric, nil
	case "imperial":
		return UnitImperial, nil
	default:
		return UnitMetric, fmt.Errorf("%w: %q", ErrUnknownUnit, s)
	}
}

func (u Unit) String() string {
	switch u {
	case UnitMetric:
		return "metric"
	case UnitImperial:
		return "imperial"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

func (u Unit) MarshalText() ([]byte, error) {
	switch u {
	case UnitMetric, UnitImperial:
		return []byte(u.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownUnit, int(u))
	}
}

func (u *Unit) UnmarshalText(text []byte) error {
	v, err := ParseUnit(string(text))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Abbrev returns the short distance label for the unit.
func (u Unit) Abbrev() string {
	if u == UnitImperial {
		return "mi"
	}
	return "km"
}

// FromMeters converts a distance in meters to kilometers or miles.
func (u Unit) FromMeters(m float64) float64 {
	if u == UnitImperial {
		return m * milesPerMeter
	}
	return m / metersPerKilometer
}

// Item is a stored record: a completed trip, a refuel, or the marker of
// an ongoing fuel calculation.
type Item struct {
	ID             uuid.UUID `json:"id"`
	Type           Type      `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	TotalMileage   float64   `json:"total_mileage"`
	FuelEfficiency float64   `json:"fuel_efficiency"`
	TotalFuelCost  float64   `json:"total_fuel_cost"`
	Unit           Unit      `json:"unit"`
}

func NewTrip(id uuid.UUID, when time.Time, meters float64, unit Unit) Item {
	return Item{
		ID:           id,
		Type:         TypeNewTrip,
		Timestamp:    when,
		TotalMileage: unit.FromMeters(meters),
		Unit:         unit,
	}
}

func NewCalculation(id uuid.UUID, when time.Time, unit Unit) Item {
	return Item{
		ID:        id,
		Type:      TypeNewCalculation,
		Timestamp: when,
		Unit:      unit,
	}
}
