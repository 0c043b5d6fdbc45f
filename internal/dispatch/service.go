package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/geo"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/ledger"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/observability"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/rewards"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/waypoints"
)

// EventSink receives lifecycle events and puller positions, typically a
// Kafka producer. All publishing is best-effort.
type EventSink interface {
	Publish(ev models.RideEvent) error
	PublishLocation(pullerID string, loc models.Coord) error
}

// Payments places a hold on the fare at pickup confirmation and
// captures it when the ride completes.
type Payments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// ReviewApprove and ReviewAdjust are the two resolution actions for a
// ride parked in pending_review.
const (
	ReviewApprove = "approve"
	ReviewAdjust  = "adjust"
)

const defaultFare = 30

// Service is the dispatch and claim-arbitration core. Every mutating
// operation goes through the ledger's AtomicTransition, so concurrent
// claims, rider decisions and the timeout sweep serialize per ride.
type Service struct {
	Store     ledger.Store
	Waypoints *waypoints.Directory
	Locations geo.LocationIndex // optional fast-path position index
	Events    EventSink         // optional
	Payments  Payments          // optional
	Logger    *slog.Logger
	Window    time.Duration // alert visibility / expiration window
	Fare      int
	Now       func() time.Time
}

func NewService(store ledger.Store, dir *waypoints.Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:     store,
		Waypoints: dir,
		Logger:    logger,
		Window:    60 * time.Second,
		Fare:      defaultFare,
		Now:       time.Now,
	}
}

// RequestRide creates a new pending ride between two named waypoints.
func (s *Service) RequestRide(riderID, pickup, destination string) (string, error) {
	if riderID == "" {
		return "", fmt.Errorf("%w: rider id required", ledger.ErrValidation)
	}
	if _, ok := s.Waypoints.Resolve(pickup); !ok {
		return "", fmt.Errorf("%w: unknown pickup %q", ledger.ErrValidation, pickup)
	}
	if _, ok := s.Waypoints.Resolve(destination); !ok {
		return "", fmt.Errorf("%w: unknown destination %q", ledger.ErrValidation, destination)
	}
	r := models.Ride{
		ID:          newID("ride"),
		RiderID:     riderID,
		Pickup:      pickup,
		Destination: destination,
		Status:      models.RidePending,
		Fare:        s.Fare,
		RequestedAt: s.Now(),
	}
	if err := s.Store.CreateRide(r); err != nil {
		return "", err
	}
	observability.RidesRequested.Inc()
	s.publish("requested", r.ID, "")
	return r.ID, nil
}

// ListAlerts returns the pending rides visible to a puller, nearest
// pickup first. An unknown puller gets an empty list, not an error.
func (s *Service) ListAlerts(pullerID string) ([]models.Alert, error) {
	p, err := s.Store.Puller(pullerID)
	if err != nil {
		return nil, nil
	}
	loc := p.Loc
	if s.Locations != nil {
		if fresh, ok := s.Locations.Get(pullerID); ok {
			loc = fresh
		}
	}

	pending, err := s.Store.RidesByStatus(models.RidePending)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	alerts := make([]models.Alert, 0, len(pending))
	for _, r := range pending {
		remaining := s.Window - now.Sub(r.RequestedAt)
		if remaining <= 0 {
			continue
		}
		pickup, ok := s.Waypoints.Resolve(r.Pickup)
		if !ok {
			continue
		}
		alerts = append(alerts, models.Alert{
			RideID:          r.ID,
			Pickup:          r.Pickup,
			Destination:     r.Destination,
			DistanceM:       geo.Distance(loc, pickup),
			PotentialPoints: rewards.BestCase(),
			ExpiresIn:       remaining,
			RequestedAt:     r.RequestedAt,
		})
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].DistanceM != alerts[j].DistanceM {
			return alerts[i].DistanceM < alerts[j].DistanceM
		}
		return alerts[i].RequestedAt.Before(alerts[j].RequestedAt)
	})
	return alerts, nil
}

// ClaimRide is the claim arbitration path: at most one puller wins a
// pending ride, everyone else observes ErrConflict and no side effects.
func (s *Service) ClaimRide(rideID, pullerID string) error {
	now := s.Now()
	err := s.Store.AtomicTransition(rideID, models.RidePending, models.RideAssigned, func(tx ledger.Tx) error {
		p, err := tx.Puller(pullerID)
		if err != nil {
			return err
		}
		if p.Status != models.PullerAvailable {
			return fmt.Errorf("%w: puller %s is %s", ledger.ErrConflict, pullerID, p.Status)
		}
		p.Status = models.PullerBusy
		r := tx.Ride()
		r.PullerID = pullerID
		r.AcceptedAt = &now
		return nil
	})
	var se *ledger.StatusError
	if errors.As(err, &se) {
		observability.ClaimsTotal.WithLabelValues("conflict").Inc()
		return fmt.Errorf("%w: %s", ledger.ErrConflict, se)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			observability.ClaimsTotal.WithLabelValues("conflict").Inc()
		}
		return err
	}
	observability.ClaimsTotal.WithLabelValues("won").Inc()
	s.publish("claimed", rideID, pullerID)
	return nil
}

// RejectAssignment lets the winning puller back out before pickup. The
// ride returns to the pool and shows up in alerts again immediately.
func (s *Service) RejectAssignment(rideID, pullerID string) error {
	err := s.Store.AtomicTransition(rideID, models.RideAssigned, models.RidePending, func(tx ledger.Tx) error {
		r := tx.Ride()
		if r.PullerID != pullerID {
			return fmt.Errorf("%w: ride %s is assigned to another puller", ledger.ErrConflict, rideID)
		}
		return s.unassign(tx)
	})
	if err != nil {
		return mapStatusErr(err)
	}
	s.publish("declined", rideID, pullerID)
	return nil
}

// RiderConfirm accepts the assigned puller and, when payments are
// configured, places a hold on the fare.
func (s *Service) RiderConfirm(rideID string) error {
	now := s.Now()
	holdID := ""
	if s.Payments != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r, err := s.Store.Ride(rideID)
		if err != nil {
			return err
		}
		if id, err := s.Payments.Hold(ctx, int64(r.Fare), "bdt", r.RiderID); err != nil {
			s.Logger.Warn("fare hold failed", "ride_id", rideID, "error", err)
		} else {
			holdID = id
		}
	}
	err := s.Store.AtomicTransition(rideID, models.RideAssigned, models.RidePickupConfirmed, func(tx ledger.Tx) error {
		r := tx.Ride()
		r.PickupConfirmedAt = &now
		if holdID != "" {
			r.PaymentIntentID = holdID
		}
		return nil
	})
	if err != nil {
		if holdID != "" && s.Payments != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := s.Payments.Cancel(ctx, holdID); cerr != nil {
				s.Logger.Warn("fare hold release failed", "ride_id", rideID, "error", cerr)
			}
		}
		return mapStatusErr(err)
	}
	s.publish("confirmed", rideID, "")
	return nil
}

// RiderReject cancels the assignment and re-dispatches the ride: the
// puller is released, the ride is pending again, and the next
// ListAlerts poll from any available puller includes it.
func (s *Service) RiderReject(rideID string) error {
	err := s.Store.AtomicTransition(rideID, models.RideAssigned, models.RidePending, func(tx ledger.Tx) error {
		return s.unassign(tx)
	})
	if err != nil {
		return mapStatusErr(err)
	}
	s.publish("rejected", rideID, "")
	return nil
}

// unassign clears the assignment and frees the puller; shared by rider
// rejection and puller decline.
func (s *Service) unassign(tx ledger.Tx) error {
	r := tx.Ride()
	p, err := tx.Puller(r.PullerID)
	if err != nil {
		return err
	}
	p.Status = models.PullerAvailable
	r.PullerID = ""
	r.AcceptedAt = nil
	return nil
}

// CompleteResult reports the outcome of CompleteRide.
type CompleteResult struct {
	PointsAwarded int     `json:"points_awarded"`
	PointsStatus  string  `json:"points_status"` // rewarded or pending
	AccuracyM     float64 `json:"accuracy_meters"`
}

// CompleteRide finishes the ride at the supplied dropoff coordinates
// and scores the dropoff accuracy. An accurate dropoff finalizes points
// in the same atomic unit; a dropoff past the outer tier parks the ride
// in pending_review with zero provisional points.
func (s *Service) CompleteRide(rideID, pullerID string, dropLat, dropLng float64) (CompleteResult, error) {
	now := s.Now()
	var res CompleteResult
	err := s.Store.AtomicTransition(rideID, models.RidePickupConfirmed, models.RideCompleted, func(tx ledger.Tx) error {
		r := tx.Ride()
		if r.PullerID != pullerID {
			return fmt.Errorf("%w: ride %s is assigned to another puller", ledger.ErrConflict, rideID)
		}
		dest, ok := s.Waypoints.Resolve(r.Destination)
		if !ok {
			return fmt.Errorf("%w: destination waypoint %q", ledger.ErrNotFound, r.Destination)
		}
		drop := models.Coord{Lat: dropLat, Lng: dropLng}
		dist := geo.Distance(drop, dest)
		points, needsReview := rewards.Score(dist)

		r.Dropoff = &drop
		r.DropoffErrorM = &dist
		r.CompletedAt = &now
		if needsReview {
			r.Status = models.RidePendingReview
			r.PointsAwarded = 0
			res = CompleteResult{PointsAwarded: 0, PointsStatus: "pending", AccuracyM: dist}
			return nil
		}
		r.PointsAwarded = points
		if err := s.finalize(tx, points, fmt.Sprintf("dropoff within %.0fm of %s", dist, r.Destination)); err != nil {
			return err
		}
		res = CompleteResult{PointsAwarded: points, PointsStatus: "rewarded", AccuracyM: dist}
		return nil
	})
	if err != nil {
		return CompleteResult{}, mapStatusErr(err)
	}
	if res.PointsStatus == "rewarded" {
		observability.RidesCompleted.WithLabelValues("rewarded").Inc()
		s.capture(rideID)
		s.publish("completed", rideID, pullerID)
	} else {
		observability.RidesCompleted.WithLabelValues("pending_review").Inc()
		s.publish("review", rideID, pullerID)
	}
	return res, nil
}

// ResolveResult reports the final point total after a manual review.
type ResolveResult struct {
	FinalPoints int `json:"final_points"`
}

// ResolveReview adjudicates a pending_review ride. Approve finalizes at
// zero points; adjust applies the explicit override. Either way the
// ride ends completed and the puller is released.
func (s *Service) ResolveReview(rideID, action string, override *int) (ResolveResult, error) {
	switch action {
	case ReviewApprove:
	case ReviewAdjust:
		if override == nil {
			return ResolveResult{}, fmt.Errorf("%w: adjust requires an override value", ledger.ErrValidation)
		}
		if *override < 0 {
			return ResolveResult{}, fmt.Errorf("%w: override must be non-negative", ledger.ErrValidation)
		}
	default:
		return ResolveResult{}, fmt.Errorf("%w: unknown action %q", ledger.ErrValidation, action)
	}

	var res ResolveResult
	err := s.Store.AtomicTransition(rideID, models.RidePendingReview, models.RideCompleted, func(tx ledger.Tx) error {
		r := tx.Ride()
		points := 0
		if action == ReviewAdjust {
			points = *override
		}
		r.PointsAwarded = points
		if err := s.finalize(tx, points, "manual review adjustment"); err != nil {
			return err
		}
		res = ResolveResult{FinalPoints: points}
		return nil
	})
	if err != nil {
		return ResolveResult{}, mapStatusErr(err)
	}
	s.capture(rideID)
	s.publish("resolved", rideID, "")
	return res, nil
}

// finalize releases the puller, bumps the counters and appends the
// reward ledger entry. Zero-point finalizations write no entry so the
// entries for a puller always sum to the balance.
func (s *Service) finalize(tx ledger.Tx, points int, reason string) error {
	r := tx.Ride()
	p, err := tx.Puller(r.PullerID)
	if err != nil {
		return err
	}
	p.Status = models.PullerAvailable
	p.TotalRides++
	if points > 0 {
		p.Points += points
		tx.AppendReward(models.RewardEntry{
			ID:        newID("rew"),
			PullerID:  p.ID,
			RideID:    r.ID,
			Delta:     points,
			Reason:    reason,
			CreatedAt: s.Now(),
		})
	}
	return nil
}

// RideStatus is the public view of a ride's progress.
type RideStatus struct {
	RideID            string            `json:"ride_id"`
	Status            models.RideStatus `json:"status"`
	PullerID          string            `json:"puller_id,omitempty"`
	Fare              int               `json:"fare"`
	DistanceToPickupM *float64          `json:"distance_to_pickup_m,omitempty"`
}

func (s *Service) GetRideStatus(rideID string) (RideStatus, error) {
	r, err := s.Store.Ride(rideID)
	if err != nil {
		return RideStatus{}, err
	}
	st := RideStatus{RideID: r.ID, Status: r.Status, PullerID: r.PullerID, Fare: r.Fare}
	if r.PullerID != "" {
		if p, err := s.Store.Puller(r.PullerID); err == nil {
			if pickup, ok := s.Waypoints.Resolve(r.Pickup); ok {
				d := geo.Distance(p.Loc, pickup)
				st.DistanceToPickupM = &d
			}
		}
	}
	return st, nil
}

// OnboardPuller registers a new puller, initially offline.
func (s *Service) OnboardPuller(userID string, loc models.Coord) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id required", ledger.ErrValidation)
	}
	p := models.Puller{
		ID:      newID("puller"),
		UserID:  userID,
		Loc:     loc,
		Status:  models.PullerOffline,
		Updated: s.Now(),
	}
	if err := s.Store.CreatePuller(p); err != nil {
		return "", err
	}
	return p.ID, nil
}

// SetAvailability flips a puller between available and offline. A busy
// puller keeps its assignment and cannot change state here.
func (s *Service) SetAvailability(pullerID string, status models.PullerStatus) error {
	if status != models.PullerAvailable && status != models.PullerOffline {
		return fmt.Errorf("%w: cannot set status %q", ledger.ErrValidation, status)
	}
	p, err := s.Store.Puller(pullerID)
	if err != nil {
		return err
	}
	if p.Status == models.PullerBusy {
		return fmt.Errorf("%w: puller %s has an active ride", ledger.ErrConflict, pullerID)
	}
	return s.Store.SetPullerStatus(pullerID, status)
}

// UpdateLocation records a puller's current position in the ledger, the
// fast-path index and the event stream.
func (s *Service) UpdateLocation(pullerID string, lat, lng float64) error {
	loc := models.Coord{Lat: lat, Lng: lng}
	if err := s.Store.UpdatePullerLoc(pullerID, loc); err != nil {
		return err
	}
	if s.Locations != nil {
		s.Locations.Upsert(pullerID, loc)
	}
	if s.Events != nil {
		if err := s.Events.PublishLocation(pullerID, loc); err != nil {
			s.Logger.Warn("location publish failed", "puller_id", pullerID, "error", err)
		}
	}
	return nil
}

// GetProfile returns a puller's profile and counters.
func (s *Service) GetProfile(pullerID string) (models.Puller, error) {
	return s.Store.Puller(pullerID)
}

// RideHistory returns all rides ever assigned to the puller.
func (s *Service) RideHistory(pullerID string) ([]models.Ride, error) {
	if _, err := s.Store.Puller(pullerID); err != nil {
		return nil, err
	}
	return s.Store.RidesByPuller(pullerID)
}

// PendingReviews lists rides awaiting manual adjudication.
func (s *Service) PendingReviews() ([]models.Ride, error) {
	return s.Store.RidesByStatus(models.RidePendingReview)
}

// Analytics is the admin overview.
type Analytics struct {
	TotalRides     int     `json:"total_rides"`
	CompletedRides int     `json:"completed_rides"`
	CompletionRate float64 `json:"completion_rate"`
}

func (s *Service) GetAnalytics() (Analytics, error) {
	total, completed, err := s.Store.CountRides()
	if err != nil {
		return Analytics{}, err
	}
	a := Analytics{TotalRides: total, CompletedRides: completed}
	if total > 0 {
		a.CompletionRate = float64(completed) / float64(total) * 100
	}
	return a, nil
}

func (s *Service) publish(eventType, rideID, pullerID string) {
	if s.Events == nil {
		return
	}
	ev := models.RideEvent{Type: eventType, RideID: rideID, PullerID: pullerID, At: s.Now()}
	if err := s.Events.Publish(ev); err != nil {
		s.Logger.Warn("event publish failed", "type", eventType, "ride_id", rideID, "error", err)
	}
}

func (s *Service) capture(rideID string) {
	if s.Payments == nil {
		return
	}
	r, err := s.Store.Ride(rideID)
	if err != nil || r.PaymentIntentID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Payments.Capture(ctx, r.PaymentIntentID); err != nil {
		s.Logger.Warn("fare capture failed", "ride_id", rideID, "error", err)
	}
}

// mapStatusErr turns a ledger StatusError into the InvalidTransition
// outcome. Claims map theirs to Conflict instead.
func mapStatusErr(err error) error {
	var se *ledger.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %s", ledger.ErrInvalidTransition, se)
	}
	return err
}

func newID(prefix string) string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}
