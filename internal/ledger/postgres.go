package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/TanvirMahmudTushar/IOTrix-Nerd-Herd/internal/models"
)

// PostgresStore implements Store on a single-node Postgres. The atomic
// transition is a row lock: SELECT ... FOR UPDATE pins the ride, the
// status check happens under the lock, and every staged write commits
// in the same transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const rideColumns = `id, rider_id, puller_id, pickup, destination, status, fare,
requested_at, accepted_at, pickup_confirmed_at, completed_at,
dropoff_lat, dropoff_lng, dropoff_error_m, points_awarded, payment_intent_id`

func scanRide(row interface{ Scan(...any) error }) (models.Ride, error) {
	var r models.Ride
	var pullerID, paymentIntent sql.NullString
	var dropLat, dropLng, dropErr sql.NullFloat64
	err := row.Scan(&r.ID, &r.RiderID, &pullerID, &r.Pickup, &r.Destination, &r.Status, &r.Fare,
		&r.RequestedAt, &r.AcceptedAt, &r.PickupConfirmedAt, &r.CompletedAt,
		&dropLat, &dropLng, &dropErr, &r.PointsAwarded, &paymentIntent)
	if err != nil {
		return models.Ride{}, err
	}
	r.PullerID = pullerID.String
	r.PaymentIntentID = paymentIntent.String
	if dropLat.Valid && dropLng.Valid {
		r.Dropoff = &models.Coord{Lat: dropLat.Float64, Lng: dropLng.Float64}
	}
	if dropErr.Valid {
		v := dropErr.Float64
		r.DropoffErrorM = &v
	}
	return r, nil
}

func (p *PostgresStore) CreateRide(r models.Ride) error {
	_, err := p.db.Exec(`INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULLIF($16,''))`,
		r.ID, r.RiderID, r.PullerID, r.Pickup, r.Destination, r.Status, r.Fare,
		r.RequestedAt, r.AcceptedAt, r.PickupConfirmedAt, r.CompletedAt,
		dropLat(r), dropLng(r), r.DropoffErrorM, r.PointsAwarded, r.PaymentIntentID)
	return err
}

func dropLat(r models.Ride) *float64 {
	if r.Dropoff == nil {
		return nil
	}
	return &r.Dropoff.Lat
}

func dropLng(r models.Ride) *float64 {
	if r.Dropoff == nil {
		return nil
	}
	return &r.Dropoff.Lng
}

func (p *PostgresStore) Ride(id string) (models.Ride, error) {
	row := p.db.QueryRow(`SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ride{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ridesWhere(clause string, args ...any) ([]models.Ride, error) {
	rows, err := p.db.Query(`SELECT `+rideColumns+` FROM rides WHERE `+clause+` ORDER BY requested_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RidesByStatus(st models.RideStatus) ([]models.Ride, error) {
	return p.ridesWhere(`status=$1`, st)
}

func (p *PostgresStore) RidesByPuller(pullerID string) ([]models.Ride, error) {
	return p.ridesWhere(`puller_id=$1`, pullerID)
}

func (p *PostgresStore) CountRides() (int, int, error) {
	var total, completed int
	err := p.db.QueryRow(`SELECT count(*), count(*) FILTER (WHERE status=$1) FROM rides`, models.RideCompleted).
		Scan(&total, &completed)
	return total, completed, err
}

func (p *PostgresStore) CreatePuller(pl models.Puller) error {
	_, err := p.db.Exec(`INSERT INTO pullers(id, user_id, lat, lng, status, points, total_rides, updated)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		pl.ID, pl.UserID, pl.Loc.Lat, pl.Loc.Lng, pl.Status, pl.Points, pl.TotalRides, pl.Updated)
	return err
}

func (p *PostgresStore) Puller(id string) (models.Puller, error) {
	var pl models.Puller
	err := p.db.QueryRow(`SELECT id, user_id, lat, lng, status, points, total_rides, updated FROM pullers WHERE id=$1`, id).
		Scan(&pl.ID, &pl.UserID, &pl.Loc.Lat, &pl.Loc.Lng, &pl.Status, &pl.Points, &pl.TotalRides, &pl.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Puller{}, ErrNotFound
	}
	return pl, err
}

func (p *PostgresStore) UpdatePullerLoc(id string, loc models.Coord) error {
	res, err := p.db.Exec(`UPDATE pullers SET lat=$1, lng=$2, updated=now() WHERE id=$3`, loc.Lat, loc.Lng, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) SetPullerStatus(id string, st models.PullerStatus) error {
	res, err := p.db.Exec(`UPDATE pullers SET status=$1, updated=now() WHERE id=$2`, st, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) RewardsFor(pullerID string) ([]models.RewardEntry, error) {
	rows, err := p.db.Query(`SELECT id, puller_id, coalesce(ride_id,''), delta, reason, created_at
		FROM reward_entries WHERE puller_id=$1 ORDER BY created_at`, pullerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RewardEntry
	for rows.Next() {
		var e models.RewardEntry
		if err := rows.Scan(&e.ID, &e.PullerID, &e.RideID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx      *sql.Tx
	ride    *models.Ride
	pullers map[string]*models.Puller
	rewards []models.RewardEntry
}

func (t *pgTx) Ride() *models.Ride { return t.ride }

func (t *pgTx) Puller(id string) (*models.Puller, error) {
	if p, ok := t.pullers[id]; ok {
		return p, nil
	}
	var pl models.Puller
	err := t.tx.QueryRow(`SELECT id, user_id, lat, lng, status, points, total_rides, updated
		FROM pullers WHERE id=$1 FOR UPDATE`, id).
		Scan(&pl.ID, &pl.UserID, &pl.Loc.Lat, &pl.Loc.Lng, &pl.Status, &pl.Points, &pl.TotalRides, &pl.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.pullers[id] = &pl
	return &pl, nil
}

func (t *pgTx) AppendReward(e models.RewardEntry) {
	t.rewards = append(t.rewards, e)
}

func (p *PostgresStore) AtomicTransition(rideID string, expected, next models.RideStatus, mut func(tx Tx) error) (err error) {
	tx, err := p.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRow(`SELECT `+rideColumns+` FROM rides WHERE id=$1 FOR UPDATE`, rideID)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if r.Status != expected {
		return &StatusError{RideID: rideID, Have: r.Status, Want: expected}
	}

	r.Status = next
	stx := &pgTx{tx: tx, ride: &r, pullers: make(map[string]*models.Puller)}
	if mut != nil {
		if err = mut(stx); err != nil {
			return err
		}
	}

	ride := stx.ride
	if _, err = tx.Exec(`UPDATE rides SET puller_id=NULLIF($1,''), status=$2,
		accepted_at=$3, pickup_confirmed_at=$4, completed_at=$5,
		dropoff_lat=$6, dropoff_lng=$7, dropoff_error_m=$8,
		points_awarded=$9, payment_intent_id=NULLIF($10,'') WHERE id=$11`,
		ride.PullerID, ride.Status, ride.AcceptedAt, ride.PickupConfirmedAt, ride.CompletedAt,
		dropLat(*ride), dropLng(*ride), ride.DropoffErrorM, ride.PointsAwarded, ride.PaymentIntentID, ride.ID); err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	for _, pl := range stx.pullers {
		if _, err = tx.Exec(`UPDATE pullers SET lat=$1, lng=$2, status=$3, points=$4, total_rides=$5, updated=now() WHERE id=$6`,
			pl.Loc.Lat, pl.Loc.Lng, pl.Status, pl.Points, pl.TotalRides, pl.ID); err != nil {
			return fmt.Errorf("update puller: %w", err)
		}
	}
	for _, e := range stx.rewards {
		if _, err = tx.Exec(`INSERT INTO reward_entries(id, puller_id, ride_id, delta, reason, created_at)
			VALUES($1,$2,NULLIF($3,''),$4,$5,$6)`,
			e.ID, e.PullerID, e.RideID, e.Delta, e.Reason, e.CreatedAt); err != nil {
			return fmt.Errorf("insert reward entry: %w", err)
		}
	}
	return tx.Commit()
}
