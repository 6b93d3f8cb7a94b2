package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freightwatch/freightwatch/internal/domain"
)

// Sentinel errors shared by all store methods. They wrap the domain
// sentinels so callers can branch with errors.Is without importing this
// package.
var (
	ErrNotFound        = fmt.Errorf("sqlite: %w", domain.ErrNotFound)
	ErrVersionConflict = fmt.Errorf("sqlite: %w", domain.ErrVersionConflict)
)

// Store implements the persistence interfaces consumed by the incident
// service, the target resolver and the pre-arrival poller.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// --- users ---

// CreateUser inserts a user record.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, role, location_id) VALUES (?, ?, ?)`,
		u.ID, string(u.Role), u.LocationID)
	if err != nil {
		return fmt.Errorf("sqlite: create user: %w", err)
	}
	return nil
}

// FindUser returns the user with the given id, or ErrNotFound.
func (s *Store) FindUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, role, location_id FROM users WHERE id = ? AND deleted_at IS NULL`,
		id).Scan(&u.ID, &role, &u.LocationID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("sqlite: find user: %w", err)
	}
	u.Role = domain.Role(role)
	return u, nil
}

// FindUsersByRole returns all non-deleted users with the given role.
func (s *Store) FindUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, location_id FROM users WHERE role = ? AND deleted_at IS NULL`,
		string(role))
	if err != nil {
		return nil, fmt.Errorf("sqlite: users by role: %w", err)
	}
	return scanUsers(rows)
}

// FindStoreManagersByLocation returns the store managers attached to the
// given destination location.
func (s *Store) FindStoreManagersByLocation(ctx context.Context, locationID string) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, location_id FROM users
		 WHERE role = ? AND location_id = ? AND deleted_at IS NULL`,
		string(domain.RoleStoreManager), locationID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: store managers by location: %w", err)
	}
	return scanUsers(rows)
}

func scanUsers(rows *sql.Rows) ([]domain.User, error) {
	defer func() { _ = rows.Close() }()
	var users []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		if err := rows.Scan(&u.ID, &role, &u.LocationID); err != nil {
			return nil, fmt.Errorf("sqlite: scan user: %w", err)
		}
		u.Role = domain.Role(role)
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- plans ---

// CreatePlan inserts a plan record.
func (s *Store) CreatePlan(ctx context.Context, p domain.Plan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (id, creator_id, carrier_id, destination_location_id,
			status, estimated_delivery_time, planned_units, arrival_notified, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		p.ID, p.CreatorID, p.CarrierID, p.DestinationLocationID,
		string(p.Status), p.EstimatedDeliveryTime.UTC(), p.PlannedUnits, boolToInt(p.ArrivalNotified))
	if err != nil {
		return fmt.Errorf("sqlite: create plan: %w", err)
	}
	return nil
}

const planColumns = `id, creator_id, carrier_id, destination_location_id,
	status, estimated_delivery_time, planned_units, arrival_notified, version`

// FindPlan returns the plan with the given id, or ErrNotFound.
func (s *Store) FindPlan(ctx context.Context, id string) (domain.Plan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = ? AND deleted_at IS NULL`, id)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, ErrNotFound
	}
	if err != nil {
		return domain.Plan{}, fmt.Errorf("sqlite: find plan: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (domain.Plan, error) {
	var p domain.Plan
	var status string
	var notified int
	if err := row.Scan(&p.ID, &p.CreatorID, &p.CarrierID, &p.DestinationLocationID,
		&status, &p.EstimatedDeliveryTime, &p.PlannedUnits, &notified, &p.Version); err != nil {
		return domain.Plan{}, err
	}
	p.Status = domain.PlanStatus(status)
	p.ArrivalNotified = notified != 0
	return p, nil
}

// UpdatePlanStatus transitions the plan, enforcing the optimistic version.
func (s *Store) UpdatePlanStatus(ctx context.Context, planID string, status domain.PlanStatus, version int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, version = version + 1
		 WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		string(status), planID, version)
	if err != nil {
		return fmt.Errorf("sqlite: update plan status: %w", err)
	}
	return affectedOrConflict(res)
}

// PlansNearingArrival returns IN_TRANSIT plans whose ETA lies inside the
// window and which have not been flagged as notified yet.
func (s *Store) PlansNearingArrival(ctx context.Context, from, to time.Time) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+planColumns+` FROM plans
		 WHERE status = ? AND arrival_notified = 0
		   AND estimated_delivery_time >= ? AND estimated_delivery_time <= ?
		   AND deleted_at IS NULL`,
		string(domain.PlanInTransit), from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlite: plans nearing arrival: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// SetArrivalNotified flags the plan so the next poller run skips it.
func (s *Store) SetArrivalNotified(ctx context.Context, planID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE plans SET arrival_notified = 1, version = version + 1
		 WHERE id = ? AND deleted_at IS NULL`,
		planID)
	if err != nil {
		return fmt.Errorf("sqlite: set arrival notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- trips ---

// CreateTrip inserts a trip record.
func (s *Store) CreateTrip(ctx context.Context, t domain.Trip) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trips (id, plan_id, carrier_id, status, reason, version)
		 VALUES (?, ?, ?, ?, ?, 1)`,
		t.ID, t.PlanID, t.CarrierID, string(t.Status), t.Reason)
	if err != nil {
		return fmt.Errorf("sqlite: create trip: %w", err)
	}
	return nil
}

// FindTrip returns the trip with the given id, or ErrNotFound.
func (s *Store) FindTrip(ctx context.Context, id string) (domain.Trip, error) {
	var t domain.Trip
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, plan_id, carrier_id, status, reason, version
		 FROM trips WHERE id = ? AND deleted_at IS NULL`, id).
		Scan(&t.ID, &t.PlanID, &t.CarrierID, &status, &t.Reason, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trip{}, ErrNotFound
	}
	if err != nil {
		return domain.Trip{}, fmt.Errorf("sqlite: find trip: %w", err)
	}
	t.Status = domain.TripStatus(status)
	return t, nil
}

// RefuseTrip atomically marks the trip refused and records one REFUSAL
// incident carrying the supplied description. Refusing an already-refused
// trip is a successful no-op: the trip is returned unchanged and no second
// incident is created.
func (s *Store) RefuseTrip(ctx context.Context, tripID, reason, description string) (domain.Trip, *domain.Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Trip{}, nil, fmt.Errorf("sqlite: refuse trip: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var t domain.Trip
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT id, plan_id, carrier_id, status, reason, version
		 FROM trips WHERE id = ? AND deleted_at IS NULL`, tripID).
		Scan(&t.ID, &t.PlanID, &t.CarrierID, &status, &t.Reason, &t.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Trip{}, nil, ErrNotFound
	}
	if err != nil {
		return domain.Trip{}, nil, fmt.Errorf("sqlite: refuse trip: %w", err)
	}
	t.Status = domain.TripStatus(status)

	if t.Status == domain.TripRefused {
		return t, nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE trips SET status = ?, reason = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		string(domain.TripRefused), reason, tripID, t.Version); err != nil {
		return domain.Trip{}, nil, fmt.Errorf("sqlite: refuse trip: %w", err)
	}
	t.Status = domain.TripRefused
	t.Reason = reason
	t.Version++

	// Skip the insert when an OPEN refusal incident already exists for the
	// plan; the unique index would reject it anyway.
	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM incidents
		 WHERE plan_id = ? AND type = ? AND status = ? AND deleted_at IS NULL`,
		t.PlanID, string(domain.IncidentRefusal), string(domain.IncidentOpen)).Scan(&existing); err != nil {
		return domain.Trip{}, nil, fmt.Errorf("sqlite: refuse trip: %w", err)
	}

	var created *domain.Incident
	if existing == 0 {
		inc := domain.Incident{
			ID:          uuid.NewString(),
			Type:        domain.IncidentRefusal,
			Status:      domain.IncidentOpen,
			PlanID:      t.PlanID,
			CarrierID:   t.CarrierID,
			Description: description,
			CreatedAt:   time.Now().UTC(),
			Version:     1,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incidents (id, type, status, plan_id, carrier_id, warehouse_id, description, created_at, version)
			 VALUES (?, ?, ?, ?, ?, '', ?, ?, 1)`,
			inc.ID, string(inc.Type), string(inc.Status), inc.PlanID, inc.CarrierID,
			inc.Description, inc.CreatedAt); err != nil {
			return domain.Trip{}, nil, fmt.Errorf("sqlite: refuse trip incident: %w", err)
		}
		created = &inc
	}

	if err := tx.Commit(); err != nil {
		return domain.Trip{}, nil, fmt.Errorf("sqlite: refuse trip: %w", err)
	}
	return t, created, nil
}

// --- incidents ---

const incidentColumns = `id, type, status, plan_id, carrier_id, warehouse_id,
	description, created_at, resolved_at, version`

// FindOpenIncident returns the OPEN incident of the given type for the plan,
// or nil when none exists. This is the dedup check run immediately before
// every insert.
func (s *Store) FindOpenIncident(ctx context.Context, planID string, typ domain.IncidentType) (*domain.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE plan_id = ? AND type = ? AND status = ? AND deleted_at IS NULL`,
		planID, string(typ), string(domain.IncidentOpen))
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find open incident: %w", err)
	}
	return &inc, nil
}

func scanIncident(row rowScanner) (domain.Incident, error) {
	var inc domain.Incident
	var typ, status string
	var resolvedAt sql.NullTime
	if err := row.Scan(&inc.ID, &typ, &status, &inc.PlanID, &inc.CarrierID,
		&inc.WarehouseID, &inc.Description, &inc.CreatedAt, &resolvedAt, &inc.Version); err != nil {
		return domain.Incident{}, err
	}
	inc.Type = domain.IncidentType(typ)
	inc.Status = domain.IncidentStatus(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		inc.ResolvedAt = &t
	}
	return inc, nil
}

// CreateIncident inserts a new OPEN incident from the draft.
func (s *Store) CreateIncident(ctx context.Context, draft domain.IncidentDraft) (domain.Incident, error) {
	inc := domain.Incident{
		ID:          uuid.NewString(),
		Type:        draft.Type,
		Status:      domain.IncidentOpen,
		PlanID:      draft.PlanID,
		CarrierID:   draft.CarrierID,
		WarehouseID: draft.WarehouseID,
		Description: draft.Description,
		CreatedAt:   time.Now().UTC(),
		Version:     1,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, type, status, plan_id, carrier_id, warehouse_id, description, created_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		inc.ID, string(inc.Type), string(inc.Status), inc.PlanID, inc.CarrierID,
		inc.WarehouseID, inc.Description, inc.CreatedAt)
	if err != nil {
		return domain.Incident{}, fmt.Errorf("sqlite: create incident: %w", err)
	}
	return inc, nil
}

// ResolveIncident closes the incident, enforcing the optimistic version.
func (s *Store) ResolveIncident(ctx context.Context, id string, version int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET status = ?, resolved_at = ?, version = version + 1
		 WHERE id = ? AND version = ? AND deleted_at IS NULL`,
		string(domain.IncidentResolved), time.Now().UTC(), id, version)
	if err != nil {
		return fmt.Errorf("sqlite: resolve incident: %w", err)
	}
	return affectedOrConflict(res)
}

// ListIncidentsByPlan returns all non-deleted incidents for the plan, newest
// first.
func (s *Store) ListIncidentsByPlan(ctx context.Context, planID string) ([]domain.Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		 WHERE plan_id = ? AND deleted_at IS NULL ORDER BY created_at DESC`, planID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: incidents by plan: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var incidents []domain.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

func affectedOrConflict(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
