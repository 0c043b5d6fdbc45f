package geo

import (
	"math"
	"sync"
	"time"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

// LocationIndex is the minimal puller-position lookup shared by the
// dispatch service and the location consumer. The ledger stays the
// source of truth; the index is the fast path for frequent writes.
type LocationIndex interface {
	Upsert(id string, loc models.Coord)
	Get(id string) (models.Coord, bool)
}

type Index struct {
	mu        sync.RWMutex
	positions map[string]position
}

type position struct {
	loc     models.Coord
	updated time.Time
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]position)}
}

func (g *Index) Upsert(id string, loc models.Coord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[id] = position{loc: loc, updated: time.Now()}
}

func (g *Index) Get(id string) (models.Coord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.positions[id]
	return p.loc, ok
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over Coord values.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
}
