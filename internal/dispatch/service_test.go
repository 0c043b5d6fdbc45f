package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/ledger"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/waypoints"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeEvents struct {
	mu     sync.Mutex
	types  []string
	locIDs []string
}

func (f *fakeEvents) Publish(ev models.RideEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, ev.Type)
	return nil
}

func (f *fakeEvents) PublishLocation(pullerID string, loc models.Coord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locIDs = append(f.locIDs, pullerID)
	return nil
}

type fakePayments struct {
	holds    int
	captures []string
	cancels  []string
}

func (f *fakePayments) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	f.holds++
	return fmt.Sprintf("pi_%d", f.holds), nil
}

func (f *fakePayments) Capture(ctx context.Context, id string) error {
	f.captures = append(f.captures, id)
	return nil
}

func (f *fakePayments) Cancel(ctx context.Context, id string) error {
	f.cancels = append(f.cancels, id)
	return nil
}

func newTestService(t *testing.T) (*Service, *ledger.MemoryStore, *fakeClock) {
	t.Helper()
	store := ledger.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store, waypoints.Defaults(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.Now = clock.Now
	return svc, store, clock
}

func seedPuller(t *testing.T, store *ledger.MemoryStore, id string, loc models.Coord) {
	t.Helper()
	err := store.CreatePuller(models.Puller{ID: id, UserID: "u_" + id, Loc: loc, Status: models.PullerAvailable})
	if err != nil {
		t.Fatalf("seed puller: %v", err)
	}
}

var cuet = models.Coord{Lat: 22.4599, Lng: 91.9712}

func TestRequestRideUnknownWaypoint(t *testing.T) {
	svc, _, _ := newTestService(t)
	if _, err := svc.RequestRide("u1", "Atlantis", "Pahartoli"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.RequestRide("u1", "CUET", "Atlantis"); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestHappyPathExactDropoff(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	ev := &fakeEvents{}
	svc.Events = ev

	rideID, err := svc.RequestRide("u1", "CUET", "Pahartoli")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	p, _ := store.Puller("p1")
	if p.Status != models.PullerBusy {
		t.Fatalf("puller should be busy, is %s", p.Status)
	}
	r, _ := store.Ride(rideID)
	if r.Status != models.RideAssigned || r.PullerID != "p1" || r.AcceptedAt == nil {
		t.Fatalf("unexpected ride after claim: %+v", r)
	}

	if err := svc.RiderConfirm(rideID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	r, _ = store.Ride(rideID)
	if r.Status != models.RidePickupConfirmed || r.PickupConfirmedAt == nil {
		t.Fatalf("unexpected ride after confirm: %+v", r)
	}

	// dropoff exactly at the destination waypoint
	dest := models.Coord{Lat: 22.3569, Lng: 91.7832}
	res, err := svc.CompleteRide(rideID, "p1", dest.Lat, dest.Lng)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.PointsAwarded != 10 || res.PointsStatus != "rewarded" || res.AccuracyM != 0 {
		t.Fatalf("unexpected result %+v", res)
	}

	r, _ = store.Ride(rideID)
	if r.Status != models.RideCompleted || r.PointsAwarded != 10 || r.CompletedAt == nil {
		t.Fatalf("unexpected ride after complete: %+v", r)
	}
	p, _ = store.Puller("p1")
	if p.Status != models.PullerAvailable || p.Points != 10 || p.TotalRides != 1 {
		t.Fatalf("unexpected puller after complete: %+v", p)
	}
	checkReconciliation(t, store, "p1")
}

func TestCompleteAccuracyTiers(t *testing.T) {
	// ~111.2m per 0.001 degrees of latitude
	cases := []struct {
		latOffset float64
		points    int
		status    string
	}{
		{0.0004, 8, "rewarded"}, // ~44m
		{0.0007, 5, "rewarded"}, // ~78m
		{0.0012, 0, "pending"},  // ~133m
	}
	for _, c := range cases {
		svc, store, _ := newTestService(t)
		seedPuller(t, store, "p1", cuet)
		rideID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")
		if err := svc.ClaimRide(rideID, "p1"); err != nil {
			t.Fatal(err)
		}
		if err := svc.RiderConfirm(rideID); err != nil {
			t.Fatal(err)
		}
		res, err := svc.CompleteRide(rideID, "p1", 22.3569+c.latOffset, 91.7832)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if res.PointsAwarded != c.points || res.PointsStatus != c.status {
			t.Fatalf("offset %v: got %+v, want points=%d status=%s", c.latOffset, res, c.points, c.status)
		}
	}
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	svc, store, _ := newTestService(t)
	const n = 12
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("p%d", i)
		seedPuller(t, store, ids[i], cuet)
	}
	rideID, _ := svc.RequestRide("u1", "CUET", "Noapara")

	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.ClaimRide(rideID, ids[i])
		}(i)
	}
	wg.Wait()

	winner := ""
	for i, err := range results {
		switch {
		case err == nil:
			if winner != "" {
				t.Fatalf("two winners: %s and %s", winner, ids[i])
			}
			winner = ids[i]
		case !errors.Is(err, ledger.ErrConflict):
			t.Fatalf("loser %s got unexpected error %v", ids[i], err)
		}
	}
	if winner == "" {
		t.Fatal("no winner")
	}
	r, _ := store.Ride(rideID)
	if r.PullerID != winner {
		t.Fatalf("ride assigned to %s but winner was %s", r.PullerID, winner)
	}
	for _, id := range ids {
		p, _ := store.Puller(id)
		want := models.PullerAvailable
		if id == winner {
			want = models.PullerBusy
		}
		if p.Status != want {
			t.Fatalf("puller %s status %s, want %s", id, p.Status, want)
		}
	}
}

func TestClaimErrors(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Raojan")

	if err := svc.ClaimRide("ride_missing", "p1"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("missing ride: expected ErrNotFound, got %v", err)
	}
	if err := svc.ClaimRide(rideID, "p_missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("missing puller: expected ErrNotFound, got %v", err)
	}
	r, _ := store.Ride(rideID)
	if r.Status != models.RidePending {
		t.Fatalf("failed claim mutated ride: %+v", r)
	}

	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.ClaimRide(rideID, "p1"); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("claimed ride: expected ErrConflict, got %v", err)
	}
}

func TestClaimByBusyPuller(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	firstID, _ := svc.RequestRide("u1", "CUET", "Noapara")
	secondID, _ := svc.RequestRide("u2", "CUET", "Raojan")

	if err := svc.ClaimRide(firstID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.ClaimRide(secondID, "p1"); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("busy puller: expected ErrConflict, got %v", err)
	}
	r, _ := store.Ride(secondID)
	if r.Status != models.RidePending || r.PullerID != "" {
		t.Fatalf("losing claim left side effects: %+v", r)
	}
}

func TestRiderRejectRedispatch(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	seedPuller(t, store, "p2", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")

	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RiderReject(rideID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	r, _ := store.Ride(rideID)
	if r.Status != models.RidePending || r.PullerID != "" || r.AcceptedAt != nil {
		t.Fatalf("unexpected ride after rider reject: %+v", r)
	}
	p, _ := store.Puller("p1")
	if p.Status != models.PullerAvailable {
		t.Fatalf("puller not released: %+v", p)
	}

	alerts, err := svc.ListAlerts("p2")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, a := range alerts {
		if a.RideID == rideID {
			found = true
		}
	}
	if !found {
		t.Fatal("rejected ride missing from alerts")
	}
}

func TestRejectAssignmentWrongPuller(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	seedPuller(t, store, "p2", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Noapara")
	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}

	if err := svc.RejectAssignment(rideID, "p2"); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	r, _ := store.Ride(rideID)
	if r.Status != models.RideAssigned || r.PullerID != "p1" {
		t.Fatalf("failed decline mutated ride: %+v", r)
	}

	if err := svc.RejectAssignment(rideID, "p1"); err != nil {
		t.Fatalf("decline: %v", err)
	}
	r, _ = store.Ride(rideID)
	if r.Status != models.RidePending || r.PullerID != "" {
		t.Fatalf("unexpected ride after decline: %+v", r)
	}
}

func TestInvalidTransitions(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")

	if err := svc.RiderConfirm(rideID); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("confirm from pending: expected ErrInvalidTransition, got %v", err)
	}
	if err := svc.RiderReject(rideID); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("reject from pending: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.CompleteRide(rideID, "p1", 0, 0); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("complete from pending: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := svc.ResolveReview(rideID, ReviewApprove, nil); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("resolve from pending: expected ErrInvalidTransition, got %v", err)
	}
}

func TestReviewFlow(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")
	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RiderConfirm(rideID); err != nil {
		t.Fatal(err)
	}

	// ~133m off the destination
	res, err := svc.CompleteRide(rideID, "p1", 22.3569+0.0012, 91.7832)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.PointsStatus != "pending" || res.PointsAwarded != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	r, _ := store.Ride(rideID)
	if r.Status != models.RidePendingReview {
		t.Fatalf("expected pending_review, got %s", r.Status)
	}
	p, _ := store.Puller("p1")
	if p.Status != models.PullerBusy {
		t.Fatalf("puller released before resolution: %+v", p)
	}

	reviews, err := svc.PendingReviews()
	if err != nil || len(reviews) != 1 || reviews[0].ID != rideID {
		t.Fatalf("unexpected pending reviews %v err=%v", reviews, err)
	}

	if _, err := svc.ResolveReview(rideID, ReviewAdjust, nil); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("adjust without override: expected ErrValidation, got %v", err)
	}
	if _, err := svc.ResolveReview(rideID, "escalate", nil); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("unknown action: expected ErrValidation, got %v", err)
	}

	override := 7
	out, err := svc.ResolveReview(rideID, ReviewAdjust, &override)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if out.FinalPoints != 7 {
		t.Fatalf("expected 7 final points, got %d", out.FinalPoints)
	}
	r, _ = store.Ride(rideID)
	if r.Status != models.RideCompleted || r.PointsAwarded != 7 {
		t.Fatalf("unexpected ride after resolve: %+v", r)
	}
	p, _ = store.Puller("p1")
	if p.Status != models.PullerAvailable || p.Points != 7 || p.TotalRides != 1 {
		t.Fatalf("unexpected puller after resolve: %+v", p)
	}
	entries, _ := store.RewardsFor("p1")
	if len(entries) != 1 || entries[0].Delta != 7 || entries[0].Reason != "manual review adjustment" {
		t.Fatalf("unexpected reward entries %v", entries)
	}

	// second resolution must fail
	if _, err := svc.ResolveReview(rideID, ReviewApprove, nil); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("double resolve: expected ErrInvalidTransition, got %v", err)
	}
	checkReconciliation(t, store, "p1")
}

func TestResolveApproveZeroPoints(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")
	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RiderConfirm(rideID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CompleteRide(rideID, "p1", 22.3569+0.0012, 91.7832); err != nil {
		t.Fatal(err)
	}

	out, err := svc.ResolveReview(rideID, ReviewApprove, nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if out.FinalPoints != 0 {
		t.Fatalf("expected 0 final points, got %d", out.FinalPoints)
	}
	p, _ := store.Puller("p1")
	if p.Points != 0 || p.TotalRides != 1 || p.Status != models.PullerAvailable {
		t.Fatalf("unexpected puller after approve: %+v", p)
	}
	if entries, _ := store.RewardsFor("p1"); len(entries) != 0 {
		t.Fatalf("zero-point approval wrote entries: %v", entries)
	}
	checkReconciliation(t, store, "p1")
}

func TestListAlertsOrderingAndWindow(t *testing.T) {
	svc, store, clock := newTestService(t)
	seedPuller(t, store, "p1", cuet)

	nearID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")
	clock.Advance(5 * time.Second)
	farID, _ := svc.RequestRide("u2", "Pahartoli", "CUET")
	clock.Advance(5 * time.Second)
	tieID, _ := svc.RequestRide("u3", "CUET", "Raojan")

	alerts, err := svc.ListAlerts("p1")
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(alerts))
	}
	// nearest first; equal distance breaks toward the earlier request
	if alerts[0].RideID != nearID || alerts[1].RideID != tieID || alerts[2].RideID != farID {
		t.Fatalf("unexpected order: %s %s %s", alerts[0].RideID, alerts[1].RideID, alerts[2].RideID)
	}
	for _, a := range alerts {
		if a.PotentialPoints != 10 {
			t.Fatalf("potential points should be best tier, got %d", a.PotentialPoints)
		}
		if a.ExpiresIn <= 0 || a.ExpiresIn > svc.Window {
			t.Fatalf("bad remaining window %v", a.ExpiresIn)
		}
	}
	if alerts[0].ExpiresIn >= alerts[1].ExpiresIn {
		t.Fatalf("older ride should have less time left: %v vs %v", alerts[0].ExpiresIn, alerts[1].ExpiresIn)
	}

	// past the window the oldest ride disappears from alerts
	clock.Advance(51 * time.Second) // nearID is now 61s old
	alerts, _ = svc.ListAlerts("p1")
	for _, a := range alerts {
		if a.RideID == nearID {
			t.Fatal("expired ride still visible")
		}
	}
}

func TestListAlertsUnknownPullerAndBadWaypoint(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)

	alerts, err := svc.ListAlerts("ghost")
	if err != nil || len(alerts) != 0 {
		t.Fatalf("unknown puller should degrade to empty, got %v err=%v", alerts, err)
	}

	// ride whose pickup no longer resolves is skipped, not an error
	err = store.CreateRide(models.Ride{ID: "r_bad", RiderID: "u1", Pickup: "Gone", Destination: "CUET", Status: models.RidePending, RequestedAt: svc.Now()})
	if err != nil {
		t.Fatal(err)
	}
	alerts, err = svc.ListAlerts("p1")
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range alerts {
		if a.RideID == "r_bad" {
			t.Fatal("unresolvable pickup should be excluded")
		}
	}
}

func TestPaymentsHoldAndCapture(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	pay := &fakePayments{}
	svc.Payments = pay

	rideID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")
	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RiderConfirm(rideID); err != nil {
		t.Fatal(err)
	}
	if pay.holds != 1 {
		t.Fatalf("expected one hold, got %d", pay.holds)
	}
	r, _ := store.Ride(rideID)
	if r.PaymentIntentID == "" {
		t.Fatal("hold id not recorded")
	}
	if _, err := svc.CompleteRide(rideID, "p1", 22.3569, 91.7832); err != nil {
		t.Fatal(err)
	}
	if len(pay.captures) != 1 || pay.captures[0] != r.PaymentIntentID {
		t.Fatalf("expected capture of %s, got %v", r.PaymentIntentID, pay.captures)
	}
}

func TestGetRideStatus(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Pahartoli")

	st, err := svc.GetRideStatus(rideID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != models.RidePending || st.PullerID != "" || st.DistanceToPickupM != nil || st.Fare != 30 {
		t.Fatalf("unexpected status %+v", st)
	}

	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}
	st, _ = svc.GetRideStatus(rideID)
	if st.PullerID != "p1" || st.DistanceToPickupM == nil {
		t.Fatalf("unexpected status after claim %+v", st)
	}
	if *st.DistanceToPickupM != 0 {
		t.Fatalf("puller is at the pickup, distance should be 0, got %v", *st.DistanceToPickupM)
	}

	if _, err := svc.GetRideStatus("ride_missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateLocationAndProfile(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	ev := &fakeEvents{}
	svc.Events = ev

	if err := svc.UpdateLocation("p1", 22.47, 91.99); err != nil {
		t.Fatal(err)
	}
	p, _ := store.Puller("p1")
	if p.Loc.Lat != 22.47 || p.Loc.Lng != 91.99 {
		t.Fatalf("location not stored: %+v", p.Loc)
	}
	if len(ev.locIDs) != 1 || ev.locIDs[0] != "p1" {
		t.Fatalf("location not published: %v", ev.locIDs)
	}
	if err := svc.UpdateLocation("ghost", 1, 2); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	prof, err := svc.GetProfile("p1")
	if err != nil || prof.ID != "p1" {
		t.Fatalf("profile: %v %v", prof, err)
	}
}

func TestAvailabilityGuard(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)
	rideID, _ := svc.RequestRide("u1", "CUET", "Noapara")
	if err := svc.ClaimRide(rideID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.SetAvailability("p1", models.PullerOffline); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("busy puller going offline: expected ErrConflict, got %v", err)
	}
	if err := svc.SetAvailability("p1", models.PullerBusy); !errors.Is(err, ledger.ErrValidation) {
		t.Fatalf("setting busy directly: expected ErrValidation, got %v", err)
	}
}

func TestReconciliationAcrossRides(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedPuller(t, store, "p1", cuet)

	offsets := []float64{0, 0.0004, 0.0007}
	for i, off := range offsets {
		rideID, _ := svc.RequestRide(fmt.Sprintf("u%d", i), "CUET", "Pahartoli")
		if err := svc.ClaimRide(rideID, "p1"); err != nil {
			t.Fatal(err)
		}
		if err := svc.RiderConfirm(rideID); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CompleteRide(rideID, "p1", 22.3569+off, 91.7832); err != nil {
			t.Fatal(err)
		}
	}
	p, _ := store.Puller("p1")
	if p.Points != 10+8+5 || p.TotalRides != 3 {
		t.Fatalf("unexpected totals %+v", p)
	}
	checkReconciliation(t, store, "p1")
}

func checkReconciliation(t *testing.T, store *ledger.MemoryStore, pullerID string) {
	t.Helper()
	p, err := store.Puller(pullerID)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := store.RewardsFor(pullerID)
	if err != nil {
		t.Fatal(err)
	}
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	if sum != p.Points {
		t.Fatalf("ledger entries sum to %d but balance is %d", sum, p.Points)
	}
}
