// Package sqlstore implements core/store on database/sql for SQLite
// (modernc.org/sqlite) and Postgres (pgx). Status changes are single
// conditional UPDATE statements.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kilianp07/routesync/core/errs"
	"github.com/kilianp07/routesync/core/model"
)

// Config selects the database.
type Config struct {
	Dialect string `json:"dialect"`
	DSN     string `json:"dsn"`
	// Migrate creates the schema on open.
	Migrate bool `json:"migrate"`
}

// Store is a SQL backed store.Store.
type Store struct {
	db *sql.DB
	d  dialect
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}
	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", d.name, err)
	}
	if d.name == SQLite {
		// One connection serializes writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: verify %s connection: %w", d.name, err)
	}
	s := &Store{db: db, d: d}
	if cfg.Migrate {
		if err := s.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) q(query string) string { return s.d.rebind(query) }

const stopColumns = `id, route_id, sequence, status, on_the_way_time, arrival_time, completion_time,
	driver_id, driver_name, customer_name, amount, payment_method, payment_status, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanStop(row scanner) (model.Stop, error) {
	var (
		st                      model.Stop
		status                  string
		onTheWay, arrived, done sql.NullString
		deleted                 sql.NullString
	)
	err := row.Scan(&st.ID, &st.RouteID, &st.Sequence, &status, &onTheWay, &arrived, &done,
		&st.DriverID, &st.DriverName, &st.CustomerName, &st.Amount, &st.PaymentMethod, &st.PaymentStatus, &deleted)
	if err != nil {
		return model.Stop{}, err
	}
	st.Status = model.StopStatus(status)
	if st.OnTheWayTime, err = decodeTime(onTheWay); err != nil {
		return model.Stop{}, err
	}
	if st.ArrivalTime, err = decodeTime(arrived); err != nil {
		return model.Stop{}, err
	}
	if st.CompletionTime, err = decodeTime(done); err != nil {
		return model.Stop{}, err
	}
	if st.DeletedAt, err = decodeTime(deleted); err != nil {
		return model.Stop{}, err
	}
	return st, nil
}

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: bad timestamp %q: %w", v.String, err)
	}
	return &t, nil
}

func (s *Store) GetStop(ctx context.Context, id string) (model.Stop, error) {
	return s.getStop(ctx, s.db, id)
}

func (s *Store) getStop(ctx context.Context, q queryer, id string) (model.Stop, error) {
	row := q.QueryRowContext(ctx, s.q(`SELECT `+stopColumns+` FROM stops WHERE id = ? AND deleted_at IS NULL`), id)
	st, err := scanStop(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Stop{}, errs.E(errs.NotFound, "stop %s not found", id)
	}
	if err != nil {
		return model.Stop{}, fmt.Errorf("get stop %s: %w", id, err)
	}
	return st, nil
}

func (s *Store) ListRouteStops(ctx context.Context, routeID string) ([]model.Stop, error) {
	return s.listRouteStops(ctx, s.db, routeID)
}

func (s *Store) listRouteStops(ctx context.Context, q queryer, routeID string) ([]model.Stop, error) {
	rows, err := q.QueryContext(ctx, s.q(`SELECT `+stopColumns+` FROM stops
		WHERE route_id = ? AND deleted_at IS NULL ORDER BY sequence, id`), routeID)
	if err != nil {
		return nil, fmt.Errorf("list stops of route %s: %w", routeID, err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.Stop
	for rows.Next() {
		st, err := scanStop(rows)
		if err != nil {
			return nil, fmt.Errorf("list stops of route %s: %w", routeID, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func timestampColumn(to model.StopStatus) string {
	switch to {
	case model.StopOnTheWay:
		return "on_the_way_time"
	case model.StopArrived:
		return "arrival_time"
	case model.StopCompleted:
		return "completion_time"
	}
	return ""
}

func (s *Store) CompareAndSetStopStatus(ctx context.Context, id string, expected, next model.StopStatus, at time.Time) (model.Stop, error) {
	set := "status = ?"
	args := []any{string(next)}
	if col := timestampColumn(next); col != "" {
		set += ", " + col + " = ?"
		args = append(args, encodeTime(at))
	}
	args = append(args, id, string(expected))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Stop{}, fmt.Errorf("update stop %s: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, s.q(`UPDATE stops SET `+set+` WHERE id = ? AND status = ? AND deleted_at IS NULL`), args...)
	if err != nil {
		return model.Stop{}, fmt.Errorf("update stop %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Stop{}, fmt.Errorf("update stop %s: %w", id, err)
	}
	current, err := s.getStop(ctx, tx, id)
	if err != nil {
		return model.Stop{}, err
	}
	if n == 0 {
		return model.Stop{}, errs.E(errs.ConflictingUpdate, "stop %s is %s, expected %s", id, current.Status, expected)
	}
	if err := tx.Commit(); err != nil {
		return model.Stop{}, fmt.Errorf("update stop %s: commit: %w", id, err)
	}
	return current, nil
}

func (s *Store) GetRoute(ctx context.Context, id string) (model.Route, error) {
	var (
		r               model.Route
		status, updated string
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, driver_id, driver_name, date, status, updated_at FROM routes WHERE id = ?`), id).
		Scan(&r.ID, &r.DriverID, &r.DriverName, &r.Date, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Route{}, errs.E(errs.NotFound, "route %s not found", id)
	}
	if err != nil {
		return model.Route{}, fmt.Errorf("get route %s: %w", id, err)
	}
	r.Status = model.RouteStatus(status)
	if t, err := decodeTime(sql.NullString{String: updated, Valid: true}); err != nil {
		return model.Route{}, err
	} else if t != nil {
		r.UpdatedAt = *t
	}
	return r, nil
}

func (s *Store) AdvanceRouteStatus(ctx context.Context, id string, from []model.RouteStatus, to model.RouteStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{string(to), encodeTime(at), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE routes SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)`), args...)
	if err != nil {
		return false, fmt.Errorf("advance route %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance route %s: %w", id, err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetRoute(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) HasSafetyCheck(ctx context.Context, routeID, driverID string, typ model.SafetyCheckType, day string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM safety_checks
		WHERE route_id = ? AND driver_id = ? AND type = ? AND day = ?`), routeID, driverID, string(typ), day).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("safety check %s/%s: %w", routeID, driverID, err)
	}
	return n > 0, nil
}

func (s *Store) AddSafetyCheck(ctx context.Context, c model.SafetyCheck) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO safety_checks (id, route_id, driver_id, type, day, created_at)
		VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`),
		c.ID, c.RouteID, c.DriverID, string(c.Type), c.Day, encodeTime(c.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("add safety check %s/%s: %w", c.RouteID, c.DriverID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add safety check %s/%s: %w", c.RouteID, c.DriverID, err)
	}
	return n > 0, nil
}

func (s *Store) RecomputeKPI(ctx context.Context, routeID string, key model.KPIKey, owns func(model.Stop) bool, at time.Time) (model.DailyKPI, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.DailyKPI{}, fmt.Errorf("recompute kpi: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stops, err := s.listRouteStops(ctx, tx, routeID)
	if err != nil {
		return model.DailyKPI{}, err
	}
	var mine []model.Stop
	for _, st := range stops {
		if owns(st) {
			mine = append(mine, st)
		}
	}
	k := model.ComputeKPI(key, mine, at)
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO daily_kpis (driver_id, date, stops_total, stops_completed, total_delivered, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (driver_id, date) DO UPDATE SET
			stops_total = excluded.stops_total,
			stops_completed = excluded.stops_completed,
			total_delivered = excluded.total_delivered,
			updated_at = excluded.updated_at`),
		k.DriverID, k.Date, k.StopsTotal, k.StopsCompleted, k.TotalDelivered, encodeTime(k.UpdatedAt))
	if err != nil {
		return model.DailyKPI{}, fmt.Errorf("recompute kpi %s/%s: %w", key.DriverID, key.Date, err)
	}
	if err := tx.Commit(); err != nil {
		return model.DailyKPI{}, fmt.Errorf("recompute kpi: commit: %w", err)
	}
	return k, nil
}

func (s *Store) ListKPIs(ctx context.Context, driverID, from, to string) ([]model.DailyKPI, error) {
	query := `SELECT driver_id, date, stops_total, stops_completed, total_delivered, updated_at FROM daily_kpis WHERE driver_id = ?`
	args := []any{driverID}
	if from != "" {
		query += ` AND date >= ?`
		args = append(args, from)
	}
	if to != "" {
		query += ` AND date <= ?`
		args = append(args, to)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY date`), args...)
	if err != nil {
		return nil, fmt.Errorf("list kpis of %s: %w", driverID, err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.DailyKPI
	for rows.Next() {
		var (
			k       model.DailyKPI
			updated string
		)
		if err := rows.Scan(&k.DriverID, &k.Date, &k.StopsTotal, &k.StopsCompleted, &k.TotalDelivered, &updated); err != nil {
			return nil, fmt.Errorf("list kpis of %s: %w", driverID, err)
		}
		if t, err := decodeTime(sql.NullString{String: updated, Valid: true}); err != nil {
			return nil, err
		} else if t != nil {
			k.UpdatedAt = *t
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) AddNote(ctx context.Context, n model.AdminNote) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO admin_notes (id, route_id, stop_id, author_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`), n.ID, n.RouteID, n.StopID, n.AuthorID, n.Body, encodeTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("add note to route %s: %w", n.RouteID, err)
	}
	return nil
}

func (s *Store) ListNotes(ctx context.Context, routeID string) ([]model.AdminNote, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, route_id, stop_id, author_id, body, created_at
		FROM admin_notes WHERE route_id = ? ORDER BY created_at, id`), routeID)
	if err != nil {
		return nil, fmt.Errorf("list notes of route %s: %w", routeID, err)
	}
	defer func() { _ = rows.Close() }()
	var out []model.AdminNote
	for rows.Next() {
		var (
			n       model.AdminNote
			created string
		)
		if err := rows.Scan(&n.ID, &n.RouteID, &n.StopID, &n.AuthorID, &n.Body, &created); err != nil {
			return nil, fmt.Errorf("list notes of route %s: %w", routeID, err)
		}
		if t, err := decodeTime(sql.NullString{String: created, Valid: true}); err != nil {
			return nil, err
		} else if t != nil {
			n.CreatedAt = *t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) PutRoute(ctx context.Context, r model.Route) error {
	if r.Status == "" {
		r.Status = model.RoutePending
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO routes (id, driver_id, driver_name, date, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			driver_id = excluded.driver_id,
			driver_name = excluded.driver_name,
			date = excluded.date,
			status = excluded.status,
			updated_at = excluded.updated_at`),
		r.ID, r.DriverID, r.DriverName, r.Date, string(r.Status), encodeTime(r.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put route %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) PutStop(ctx context.Context, st model.Stop) error {
	if st.Status == "" {
		st.Status = model.StopPending
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO stops (`+stopColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			route_id = excluded.route_id,
			sequence = excluded.sequence,
			status = excluded.status,
			on_the_way_time = excluded.on_the_way_time,
			arrival_time = excluded.arrival_time,
			completion_time = excluded.completion_time,
			driver_id = excluded.driver_id,
			driver_name = excluded.driver_name,
			customer_name = excluded.customer_name,
			amount = excluded.amount,
			payment_method = excluded.payment_method,
			payment_status = excluded.payment_status,
			deleted_at = excluded.deleted_at`),
		st.ID, st.RouteID, st.Sequence, string(st.Status),
		encodeTimePtr(st.OnTheWayTime), encodeTimePtr(st.ArrivalTime), encodeTimePtr(st.CompletionTime),
		st.DriverID, st.DriverName, st.CustomerName, st.Amount, st.PaymentMethod, st.PaymentStatus,
		encodeTimePtr(st.DeletedAt))
	if err != nil {
		return fmt.Errorf("put stop %s: %w", st.ID, err)
	}
	return nil
}
