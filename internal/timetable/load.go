package timetable

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTimetable []byte

// Load reads the timetable at path, or the embedded sample timetable when
// path is empty.
func Load(path string) (*Index, error) {
	if path == "" {
		return Parse(defaultTimetable)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read timetable: %w", err)
	}
	return Parse(b)
}

// Parse decodes a YAML document with "outbound" and "inbound" mappings of
// station -> [HH:MM, ...]. Mapping order is significant: it is the running
// order of the stations, so the document is walked as a yaml.Node rather than
// decoded into a Go map.
func Parse(b []byte) (*Index, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse timetable: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse timetable: top level must be a mapping")
	}
	root := doc.Content[0]

	var outbound, inbound []StationTimes
	var haveOut, haveIn bool
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		dir, err := ParseDirection(key.Value)
		if err != nil {
			return nil, fmt.Errorf("parse timetable: line %d: %w", key.Line, err)
		}
		rows, err := parseDirection(val)
		if err != nil {
			return nil, fmt.Errorf("parse timetable: %s: %w", dir, err)
		}
		switch dir {
		case Outbound:
			outbound, haveOut = rows, true
		case Inbound:
			inbound, haveIn = rows, true
		}
	}
	if !haveOut || !haveIn {
		return nil, fmt.Errorf("parse timetable: both outbound and inbound are required")
	}
	return NewIndex(outbound, inbound)
}

func parseDirection(n *yaml.Node) ([]StationTimes, error) {
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected station mapping", n.Line)
	}
	rows := make([]StationTimes, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		var raw []string
		if err := val.Decode(&raw); err != nil {
			return nil, fmt.Errorf("station %q (line %d): %w", key.Value, val.Line, err)
		}
		deps := make([]TimeOfDay, 0, len(raw))
		for _, s := range raw {
			t, err := ParseTimeOfDay(s)
			if err != nil {
				return nil, fmt.Errorf("station %q (line %d): %w", key.Value, val.Line, err)
			}
			deps = append(deps, t)
		}
		rows = append(rows, StationTimes{Station: key.Value, Departures: deps})
	}
	return rows, nil
}
