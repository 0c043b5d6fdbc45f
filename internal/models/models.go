package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RideStatus is the closed set of ride lifecycle states. Transitions are
// validated by the ledger, so nothing outside this set is ever stored.
type RideStatus string

const (
	RidePending         RideStatus = "pending"
	RideAssigned        RideStatus = "assigned"
	RidePickupConfirmed RideStatus = "pickup_confirmed"
	RideCompleted       RideStatus = "completed"
	RidePendingReview   RideStatus = "pending_review"
	RideExpired         RideStatus = "expired"
)

// Terminal reports whether no further transition can leave the state.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideExpired
}

type PullerStatus string

const (
	PullerAvailable PullerStatus = "available"
	PullerBusy      PullerStatus = "busy"
	PullerOffline   PullerStatus = "offline"
)

type Ride struct {
	ID                string     `json:"ride_id"`
	RiderID           string     `json:"rider_id"`
	PullerID          string     `json:"puller_id,omitempty"` // empty until assigned
	Pickup            string     `json:"pickup"`              // waypoint name
	Destination       string     `json:"destination"`         // waypoint name
	Status            RideStatus `json:"status"`
	Fare              int        `json:"fare"`
	RequestedAt       time.Time  `json:"requested_at"`
	AcceptedAt        *time.Time `json:"accepted_at,omitempty"`
	PickupConfirmedAt *time.Time `json:"pickup_confirmed_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Dropoff           *Coord     `json:"dropoff,omitempty"`
	DropoffErrorM     *float64   `json:"dropoff_error_m,omitempty"`
	PointsAwarded     int        `json:"points_awarded"`
	PaymentIntentID   string     `json:"-"`
}

type Puller struct {
	ID         string       `json:"puller_id"`
	UserID     string       `json:"user_id"`
	Loc        Coord        `json:"loc"`
	Status     PullerStatus `json:"status"`
	Points     int          `json:"points"`
	TotalRides int          `json:"total_rides"`
	Updated    time.Time    `json:"updated"`
}

type Waypoint struct {
	Name string `json:"name"`
	Loc  Coord  `json:"loc"`
}

// RewardEntry is an append-only record of a points change. The sum of a
// puller's entries must always equal that puller's balance.
type RewardEntry struct {
	ID        string    `json:"id"`
	PullerID  string    `json:"puller_id"`
	RideID    string    `json:"ride_id,omitempty"`
	Delta     int       `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Alert is the puller-visible summary of a claimable pending ride.
type Alert struct {
	RideID          string        `json:"ride_id"`
	Pickup          string        `json:"pickup"`
	Destination     string        `json:"destination"`
	DistanceM       float64       `json:"distance_to_pickup_m"`
	PotentialPoints int           `json:"potential_points"`
	ExpiresIn       time.Duration `json:"expires_in_ns"`
	RequestedAt     time.Time     `json:"requested_at"`
}

// RideEvent is published to the event stream on lifecycle changes.
type RideEvent struct {
	Type     string    `json:"type"`
	RideID   string    `json:"ride_id"`
	PullerID string    `json:"puller_id,omitempty"`
	At       time.Time `json:"at"`
}
