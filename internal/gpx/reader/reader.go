// Package reader decodes GPX tracks into location samples.
package reader

import (
	"encoding/xml"
	"errors"
	"io"
	"time"

	"calmh.dev/tripd/internal/geometry"
	"calmh.dev/tripd/internal/location"
)

type GPX struct {
	Tracks []struct {
		Segments []struct {
			Points []GPXTrkPoint `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
}

// GPXTrkPoint is a track point. Speed is the GPX 1.0 speed element in
// meters per second, when present.
type GPXTrkPoint struct {
	Lat        float64         `xml:"lat,attr"`
	Lon        float64         `xml:"lon,attr"`
	Time       time.Time       `xml:"time"`
	Speed      *float64        `xml:"speed"`
	Extensions GPXExtensionSet `xml:"extensions"`
}

type GPXExtensionSet struct {
	Children []GPXExtension `xml:",any"`
}

func (e GPXExtensionSet) Named(name string) GPXExtension {
	for _, c := range e.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return GPXExtension{}
}

type GPXExtension struct {
	XMLName xml.Name
	Value   float64 `xml:",chardata"`
}

// Points returns the points of every track segment in r.
func Points(r io.Reader) ([][]GPXTrkPoint, error) {
	dec := xml.NewDecoder(r)
	var points [][]GPXTrkPoint
	for {
		var g GPX
		if err := dec.Decode(&g); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		for _, trk := range g.Tracks {
			for _, seg := range trk.Segments {
				if len(seg.Points) > 0 {
					points = append(points, seg.Points)
				}
			}
		}
	}
	return points, nil
}

// Samples converts a segment to location samples. Points without a
// recorded speed, either the speed element or a speed extension, get the
// speed over the leg leading up to them; the first point gets the speed
// of the leg after it.
func Samples(points []GPXTrkPoint) []location.Sample {
	samples := make([]location.Sample, len(points))
	for i, p := range points {
		samples[i] = location.Sample{Lat: p.Lat, Lon: p.Lon, When: p.Time, Speed: -1}
		ext := p.Extensions.Named("speed")
		switch {
		case p.Speed != nil:
			samples[i].Speed = *p.Speed
		case ext.XMLName.Local != "":
			samples[i].Speed = ext.Value
		case i > 0:
			samples[i].Speed = legSpeed(points[i-1], p)
		case len(points) > 1:
			samples[i].Speed = legSpeed(p, points[1])
		}
	}
	return samples
}

func legSpeed(a, b GPXTrkPoint) float64 {
	meters := geometry.Distance(a.Lat, a.Lon, b.Lat, b.Lon)
	return geometry.Speed(meters, b.Time.Sub(a.Time))
}
