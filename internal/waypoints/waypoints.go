package waypoints

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

// Directory is the read-only name -> coordinates lookup for the campus
// pickup and dropoff points. It is populated once at startup and never
// mutated afterwards, so lookups need no locking.
type Directory struct {
	byName map[string]models.Coord
}

// Defaults returns the built-in campus waypoint set.
func Defaults() *Directory {
	return FromWaypoints([]models.Waypoint{
		{Name: "CUET", Loc: models.Coord{Lat: 22.4599, Lng: 91.9712}},
		{Name: "Pahartoli", Loc: models.Coord{Lat: 22.3569, Lng: 91.7832}},
		{Name: "Noapara", Loc: models.Coord{Lat: 22.4673, Lng: 91.8870}},
		{Name: "Raojan", Loc: models.Coord{Lat: 22.4500, Lng: 92.0600}},
	})
}

func FromWaypoints(wps []models.Waypoint) *Directory {
	d := &Directory{byName: make(map[string]models.Coord, len(wps))}
	for _, wp := range wps {
		d.byName[wp.Name] = wp.Loc
	}
	return d
}

// LoadFile reads a JSON array of waypoints.
func LoadFile(path string) (*Directory, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read waypoints file: %w", err)
	}
	var wps []models.Waypoint
	if err := json.Unmarshal(b, &wps); err != nil {
		return nil, fmt.Errorf("parse waypoints file: %w", err)
	}
	if len(wps) == 0 {
		return nil, fmt.Errorf("waypoints file %s is empty", path)
	}
	return FromWaypoints(wps), nil
}

// Resolve returns the coordinates for a waypoint name.
func (d *Directory) Resolve(name string) (models.Coord, bool) {
	loc, ok := d.byName[name]
	return loc, ok
}

// Names returns all known waypoint names.
func (d *Directory) Names() []string {
	out := make([]string, 0, len(d.byName))
	for name := range d.byName {
		out = append(out, name)
	}
	return out
}
