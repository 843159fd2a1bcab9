package timetable

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStation is returned by Catalog.Validate for names that are not
// served by the line.
var ErrUnknownStation = errors.New("unknown station")

// Catalog is the canonical station listing used by every station menu:
// outbound stations in running order, then stations that only appear inbound.
type Catalog struct {
	all    []string
	byName map[string]struct{}
	idx    *Index
}

func NewCatalog(idx *Index) *Catalog {
	c := &Catalog{byName: make(map[string]struct{}), idx: idx}
	for _, dir := range Directions {
		for _, s := range idx.Stations(dir) {
			if _, seen := c.byName[s]; seen {
				continue
			}
			c.byName[s] = struct{}{}
			c.all = append(c.all, s)
		}
	}
	return c
}

// AllStations returns a copy of the deduplicated station list.
func (c *Catalog) AllStations() []string {
	out := make([]string, len(c.all))
	copy(out, c.all)
	return out
}

// Stations returns the station order of a single direction.
func (c *Catalog) Stations(dir Direction) []string { return c.idx.Stations(dir) }

func (c *Catalog) Contains(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Validate normalizes a station name supplied by a front-end and checks it
// against the catalog.
func (c *Catalog) Validate(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !c.Contains(name) {
		return "", fmt.Errorf("%w: %q", ErrUnknownStation, name)
	}
	return name, nil
}
