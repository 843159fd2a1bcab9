package report

import (
	"sort"
	"time"

	"railsight/internal/timetable"
)

// Bucket collapses every report sharing a station, direction and minute.
type Bucket struct {
	Station   string              `json:"station"`
	Direction timetable.Direction `json:"direction"`
	Minute    timetable.TimeOfDay `json:"minute"`
	Count     int                 `json:"count"`
}

type bucketKey struct {
	station   string
	direction timetable.Direction
	minute    int64 // unix minutes; time.Time is not a safe map key across locations
}

// GroupByMinute buckets reports by (station, direction, CreatedAt truncated to
// the minute) and returns the buckets newest first. Equal minutes are ordered
// by station, then direction.
func GroupByMinute(reports []Report) []Bucket {
	counts := make(map[bucketKey]int)
	minutes := make(map[bucketKey]time.Time)
	for _, r := range reports {
		k := bucketKey{
			station:   r.Station,
			direction: r.Direction,
			minute:    r.CreatedAt.Truncate(time.Minute).Unix() / 60,
		}
		if counts[k] == 0 {
			minutes[k] = r.CreatedAt
		}
		counts[k]++
	}

	keys := make([]bucketKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.minute != b.minute {
			return a.minute > b.minute
		}
		if a.station != b.station {
			return a.station < b.station
		}
		return a.direction < b.direction
	})

	out := make([]Bucket, 0, len(keys))
	for _, k := range keys {
		out = append(out, Bucket{
			Station:   k.station,
			Direction: k.direction,
			Minute:    timetable.Of(minutes[k]),
			Count:     counts[k],
		})
	}
	return out
}

// OrderStationsByEarliestSighting returns the stations present in reports,
// ordered by their first sighting of the day. Callers pass reports already
// filtered to one direction.
func OrderStationsByEarliestSighting(reports []Report) []string {
	first := make(map[string]time.Time)
	for _, r := range reports {
		if t, ok := first[r.Station]; !ok || r.CreatedAt.Before(t) {
			first[r.Station] = r.CreatedAt
		}
	}

	stations := make([]string, 0, len(first))
	for s := range first {
		stations = append(stations, s)
	}
	sort.Slice(stations, func(i, j int) bool {
		a, b := first[stations[i]], first[stations[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return stations[i] < stations[j]
	})
	return stations
}
