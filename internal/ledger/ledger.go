package ledger

import (
	"errors"
	"fmt"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

var (
	// ErrNotFound is returned when a ride, puller or waypoint does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a claim loses the race for a ride.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition is returned when an action is not valid for
	// the ride's current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrValidation is returned on missing or malformed input.
	ErrValidation = errors.New("validation error")
)

// StatusError is reported by AtomicTransition when the ride is not in
// the expected status. Callers translate it into ErrConflict (claims)
// or ErrInvalidTransition (everything else).
type StatusError struct {
	RideID string
	Have   models.RideStatus
	Want   models.RideStatus
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ride %s is %s, want %s", e.RideID, e.Have, e.Want)
}

// Tx is the mutation scope handed to an AtomicTransition mutator. Every
// change staged through it commits together with the status transition
// or not at all.
type Tx interface {
	// Ride returns the staged ride, already moved to the new status.
	// A mutator may refine the staged status further (completion uses
	// this to route to pending_review); the expected-status check has
	// already happened under the same lock either way.
	Ride() *models.Ride
	// Puller stages the puller for update; repeated calls return the
	// same staged copy.
	Puller(id string) (*models.Puller, error)
	// AppendReward stages an append-only reward ledger entry.
	AppendReward(e models.RewardEntry)
}

// Store is the authoritative record store for rides, pullers and reward
// entries. AtomicTransition is the single primitive behind claim
// arbitration and the timeout sweep: the status check and the write are
// indivisible with respect to all concurrent callers.
type Store interface {
	CreateRide(r models.Ride) error
	Ride(id string) (models.Ride, error)
	RidesByStatus(st models.RideStatus) ([]models.Ride, error)
	RidesByPuller(pullerID string) ([]models.Ride, error)
	CountRides() (total, completed int, err error)

	CreatePuller(p models.Puller) error
	Puller(id string) (models.Puller, error)
	UpdatePullerLoc(id string, loc models.Coord) error
	SetPullerStatus(id string, st models.PullerStatus) error

	// AtomicTransition moves the ride from expected to next and applies
	// the mutator in the same atomic unit. A *StatusError is returned
	// when the ride is not in the expected status; any mutator error
	// aborts the whole transition with no partial writes.
	AtomicTransition(rideID string, expected, next models.RideStatus, mut func(tx Tx) error) error

	RewardsFor(pullerID string) ([]models.RewardEntry, error)
}
