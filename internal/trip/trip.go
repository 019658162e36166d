// Package trip derives summary metrics from recorded GPS point sequences.
package trip

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const earthRadiusMeters = 6371000.0

// Point is one GPS fix.
type Point struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

// Stop is a dwell period where the vehicle stayed below the speed
// threshold for at least the minimum duration.
type Stop struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Lat      float64   `json:"lat"`
	Lon      float64   `json:"lon"`
	Duration time.Duration
}

// Summary aggregates one trip.
type Summary struct {
	DistanceMeters float64       `json:"distanceMeters"`
	Duration       time.Duration `json:"duration"`
	AvgSpeedKMH    float64       `json:"avgSpeedKmh"`
	MaxSpeedKMH    float64       `json:"maxSpeedKmh"`
	Stops          []Stop        `json:"stops"`
}

// Options tunes stop detection.
type Options struct {
	// StopSpeedKMH is the speed below which the vehicle counts as stopped.
	StopSpeedKMH float64
	// MinStopDuration is the minimum dwell to report a stop.
	MinStopDuration time.Duration
}

// DefaultOptions returns the standard detection thresholds.
func DefaultOptions() Options {
	return Options{
		StopSpeedKMH:    3,
		MinStopDuration: 3 * time.Minute,
	}
}

// Haversine returns the great-circle distance in meters between two
// coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Summarize computes trip metrics over the point sequence. Points are
// sorted by timestamp first; fewer than two points yield a zero summary.
func Summarize(points []Point, opts Options) Summary {
	if opts.StopSpeedKMH <= 0 {
		opts = DefaultOptions()
	}

	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })

	var sum Summary
	if len(pts) < 2 {
		return sum
	}

	sum.Duration = pts[len(pts)-1].Timestamp.Sub(pts[0].Timestamp)

	var stopStart *Point
	var lastSlow Point
	for i := 1; i < len(pts); i++ {
		prev, cur := pts[i-1], pts[i]
		dist := Haversine(prev.Lat, prev.Lon, cur.Lat, cur.Lon)
		sum.DistanceMeters += dist

		dt := cur.Timestamp.Sub(prev.Timestamp)
		if dt <= 0 {
			continue
		}
		speed := dist / dt.Seconds() * 3.6
		if speed > sum.MaxSpeedKMH {
			sum.MaxSpeedKMH = speed
		}

		if speed < opts.StopSpeedKMH {
			if stopStart == nil {
				p := prev
				stopStart = &p
			}
			lastSlow = cur
		} else if stopStart != nil {
			sum.Stops = appendStop(sum.Stops, *stopStart, lastSlow, opts)
			stopStart = nil
		}
	}
	if stopStart != nil {
		sum.Stops = appendStop(sum.Stops, *stopStart, lastSlow, opts)
	}

	if sum.Duration > 0 {
		sum.AvgSpeedKMH = sum.DistanceMeters / sum.Duration.Seconds() * 3.6
	}
	return sum
}

func appendStop(stops []Stop, start, end Point, opts Options) []Stop {
	dwell := end.Timestamp.Sub(start.Timestamp)
	if dwell < opts.MinStopDuration {
		return stops
	}
	return append(stops, Stop{
		Start:    start.Timestamp,
		End:      end.Timestamp,
		Lat:      start.Lat,
		Lon:      start.Lon,
		Duration: dwell,
	})
}

// LiveContext renders the summary as the compact context line attached to
// assistant requests.
func (s Summary) LiveContext() string {
	return fmt.Sprintf("trip: %.1f km over %s, avg %.0f km/h, max %.0f km/h, %d stops",
		s.DistanceMeters/1000,
		s.Duration.Round(time.Minute),
		s.AvgSpeedKMH,
		s.MaxSpeedKMH,
		len(s.Stops))
}
