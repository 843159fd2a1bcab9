package timetable

import (
	"fmt"
	"sort"
	"strings"
)

// Index is the read-only departure table for both directions. It is built
// once at startup and shared without locking.
type Index struct {
	tables map[Direction]*table
}

type table struct {
	order      []string
	departures map[string][]TimeOfDay
}

// NewIndex validates and indexes the two direction timetables. Station names
// must be unique within a direction and departures strictly ascending.
func NewIndex(outbound, inbound []StationTimes) (*Index, error) {
	idx := &Index{tables: make(map[Direction]*table, 2)}
	for _, dir := range Directions {
		rows := outbound
		if dir == Inbound {
			rows = inbound
		}
		t, err := newTable(rows)
		if err != nil {
			return nil, fmt.Errorf("%s timetable: %w", dir, err)
		}
		idx.tables[dir] = t
	}
	return idx, nil
}

func newTable(rows []StationTimes) (*table, error) {
	t := &table{departures: make(map[string][]TimeOfDay, len(rows))}
	for _, r := range rows {
		name := strings.TrimSpace(r.Station)
		if name == "" {
			return nil, fmt.Errorf("empty station name")
		}
		if _, dup := t.departures[name]; dup {
			return nil, fmt.Errorf("station %q listed twice", name)
		}
		for i := 1; i < len(r.Departures); i++ {
			if r.Departures[i] <= r.Departures[i-1] {
				return nil, fmt.Errorf("station %q: departure %s not after %s", name, r.Departures[i], r.Departures[i-1])
			}
		}
		deps := make([]TimeOfDay, len(r.Departures))
		copy(deps, r.Departures)
		t.order = append(t.order, name)
		t.departures[name] = deps
	}
	return t, nil
}

// Stations returns the station order of one direction.
func (idx *Index) Stations(dir Direction) []string {
	t, ok := idx.tables[dir]
	if !ok {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Departures returns the full ordered list for a station, or nil.
func (idx *Index) Departures(station string, dir Direction) []TimeOfDay {
	return idx.AllDeparturesAfter(station, dir, -1)
}

// NextDeparture returns the first departure strictly after ref.
func (idx *Index) NextDeparture(station string, dir Direction, ref TimeOfDay) (TimeOfDay, bool) {
	deps := idx.lookup(station, dir)
	i := firstAfter(deps, ref)
	if i == len(deps) {
		return 0, false
	}
	return deps[i], true
}

// AllDeparturesAfter returns every departure strictly after ref, ascending.
// Unknown stations yield an empty result.
func (idx *Index) AllDeparturesAfter(station string, dir Direction, ref TimeOfDay) []TimeOfDay {
	deps := idx.lookup(station, dir)
	i := firstAfter(deps, ref)
	out := make([]TimeOfDay, len(deps)-i)
	copy(out, deps[i:])
	return out
}

func (idx *Index) lookup(station string, dir Direction) []TimeOfDay {
	t, ok := idx.tables[dir]
	if !ok {
		return nil
	}
	return t.departures[station]
}

func firstAfter(deps []TimeOfDay, ref TimeOfDay) int {
	return sort.Search(len(deps), func(i int) bool { return deps[i] > ref })
}
