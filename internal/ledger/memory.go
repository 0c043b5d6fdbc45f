package ledger

import (
	"sort"
	"sync"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

// MemoryStore keeps everything behind one mutex. The critical section
// covers the whole AtomicTransition, which is what gives claim and
// sweep their mutual exclusion on a single node.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]models.Ride
	pullers map[string]models.Puller
	rewards []models.RewardEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]models.Ride),
		pullers: make(map[string]models.Puller),
	}
}

func (m *MemoryStore) CreateRide(r models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return ErrConflict
	}
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryStore) Ride(id string) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) RidesByStatus(st models.RideStatus) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.Status == st {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *MemoryStore) RidesByPuller(pullerID string) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.PullerID == pullerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (m *MemoryStore) CountRides() (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := len(m.rides)
	completed := 0
	for _, r := range m.rides {
		if r.Status == models.RideCompleted {
			completed++
		}
	}
	return total, completed, nil
}

func (m *MemoryStore) CreatePuller(p models.Puller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pullers[p.ID]; ok {
		return ErrConflict
	}
	m.pullers[p.ID] = p
	return nil
}

func (m *MemoryStore) Puller(id string) (models.Puller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pullers[id]
	if !ok {
		return models.Puller{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) UpdatePullerLoc(id string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pullers[id]
	if !ok {
		return ErrNotFound
	}
	p.Loc = loc
	m.pullers[id] = p
	return nil
}

func (m *MemoryStore) SetPullerStatus(id string, st models.PullerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pullers[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = st
	m.pullers[id] = p
	return nil
}

func (m *MemoryStore) RewardsFor(pullerID string) ([]models.RewardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.RewardEntry
	for _, e := range m.rewards {
		if e.PullerID == pullerID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memTx struct {
	store   *MemoryStore
	ride    *models.Ride
	pullers map[string]*models.Puller
	rewards []models.RewardEntry
}

func (t *memTx) Ride() *models.Ride { return t.ride }

func (t *memTx) Puller(id string) (*models.Puller, error) {
	if p, ok := t.pullers[id]; ok {
		return p, nil
	}
	p, ok := t.store.pullers[id]
	if !ok {
		return nil, ErrNotFound
	}
	staged := p
	t.pullers[id] = &staged
	return &staged, nil
}

func (t *memTx) AppendReward(e models.RewardEntry) {
	t.rewards = append(t.rewards, e)
}

func (m *MemoryStore) AtomicTransition(rideID string, expected, next models.RideStatus, mut func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rides[rideID]
	if !ok {
		return ErrNotFound
	}
	if r.Status != expected {
		return &StatusError{RideID: rideID, Have: r.Status, Want: expected}
	}

	staged := r
	staged.Status = next
	tx := &memTx{store: m, ride: &staged, pullers: make(map[string]*models.Puller)}
	if mut != nil {
		if err := mut(tx); err != nil {
			return err
		}
	}

	m.rides[rideID] = *tx.ride
	for id, p := range tx.pullers {
		m.pullers[id] = *p
	}
	m.rewards = append(m.rewards, tx.rewards...)
	return nil
}
