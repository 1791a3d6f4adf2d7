/*
Package sqlstore provides a SQL-backed implementation of the engine's storage
interfaces for SQLite and PostgreSQL.

PURPOSE:
  Implements lifecycle.TxStore, forecast.Source and the ingestion methods the
  HTTP API uses. Queries are written once with "?" placeholders and rebound
  for the driver by sqlx.

INTERFACES IMPLEMENTED:
  lifecycle.TxStore: transactional meeting and counter writes
  forecast.Source:   read-only history and schedule queries

COUNTERS:
  AddProgress is a single UPDATE ... SET x = x + ? statement. Inside WithTx,
  LockProgress and GetMeeting read with FOR UPDATE on PostgreSQL; on SQLite
  the store serializes writers with a mutex and a single connection.

USAGE:
  store, err := sqlstore.Open("sqlite3", "./meetings.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := lifecycle.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on Open.

SEE ALSO:
  - lifecycle/store.go:        interface definitions
  - lifecycle/store/memory.go: in-memory implementation for testing
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/meeting-engine/lifecycle"
	"github.com/warp/meeting-engine/settlement"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store implements the storage interfaces on a SQL database.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex

	// serialize is set for SQLite, which has no row locks.
	serialize bool
	// lockClause is appended to reads that must hold their rows.
	lockClause string
}

// Open connects to the database and migrates the schema.
// For SQLite use ":memory:" for an in-memory database.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		s.serialize = true
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		s.lockClause = " FOR UPDATE"
	}

	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) rlock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) wlock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// LIFECYCLE STORE
// =============================================================================

func (s *Store) GetMeeting(ctx context.Context, id settlement.MeetingID) (*settlement.Meeting, error) {
	defer s.rlock()()
	return getMeeting(ctx, s.db, id, "")
}

func (s *Store) GetCycle(ctx context.Context, id settlement.CycleID) (*settlement.Cycle, error) {
	defer s.rlock()()
	return getCycle(ctx, s.db, id)
}

func (s *Store) GetInstructor(ctx context.Context, id settlement.InstructorID) (*settlement.Instructor, error) {
	defer s.rlock()()
	return getInstructor(ctx, s.db, id)
}

func (s *Store) ListRegistrations(ctx context.Context, cycleID settlement.CycleID) ([]settlement.Registration, error) {
	defer s.rlock()()
	return listRegistrations(ctx, s.db, cycleID)
}

func (s *Store) InsertMeeting(ctx context.Context, m settlement.Meeting) error {
	defer s.wlock()()
	return insertMeeting(ctx, s.db, m)
}

func (s *Store) UpdateMeeting(ctx context.Context, m settlement.Meeting) error {
	defer s.wlock()()
	return updateMeeting(ctx, s.db, m)
}

func (s *Store) LockProgress(ctx context.Context, cycleID settlement.CycleID) (settlement.Progress, error) {
	defer s.rlock()()
	return progress(ctx, s.db, cycleID, "")
}

func (s *Store) AddProgress(ctx context.Context, cycleID settlement.CycleID, completedDelta, remainingDelta int) error {
	defer s.wlock()()
	return addProgress(ctx, s.db, cycleID, completedDelta, remainingDelta)
}

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(lifecycle.Store) error) error {
	defer s.wlock()()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx, lockClause: s.lockClause}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore routes every call through the open transaction.
type txStore struct {
	tx         *sqlx.Tx
	lockClause string
}

func (ts *txStore) GetMeeting(ctx context.Context, id settlement.MeetingID) (*settlement.Meeting, error) {
	return getMeeting(ctx, ts.tx, id, ts.lockClause)
}

func (ts *txStore) GetCycle(ctx context.Context, id settlement.CycleID) (*settlement.Cycle, error) {
	return getCycle(ctx, ts.tx, id)
}

func (ts *txStore) GetInstructor(ctx context.Context, id settlement.InstructorID) (*settlement.Instructor, error) {
	return getInstructor(ctx, ts.tx, id)
}

func (ts *txStore) ListRegistrations(ctx context.Context, cycleID settlement.CycleID) ([]settlement.Registration, error) {
	return listRegistrations(ctx, ts.tx, cycleID)
}

func (ts *txStore) InsertMeeting(ctx context.Context, m settlement.Meeting) error {
	return insertMeeting(ctx, ts.tx, m)
}

func (ts *txStore) UpdateMeeting(ctx context.Context, m settlement.Meeting) error {
	return updateMeeting(ctx, ts.tx, m)
}

func (ts *txStore) LockProgress(ctx context.Context, cycleID settlement.CycleID) (settlement.Progress, error) {
	return progress(ctx, ts.tx, cycleID, ts.lockClause)
}

func (ts *txStore) AddProgress(ctx context.Context, cycleID settlement.CycleID, completedDelta, remainingDelta int) error {
	return addProgress(ctx, ts.tx, cycleID, completedDelta, remainingDelta)
}

// =============================================================================
// QUERIES
// =============================================================================

const meetingColumns = `id, cycle_id, instructor_id, scheduled_date, start_time, end_time, status,
	activity_type, revenue, instructor_payment, profit, rescheduled_to_id, rescheduled_from_id,
	notes, request_json, status_updated_at, status_updated_by, created_at, deleted_at`

const cycleColumns = `id, name, type, instructor_id, total_meetings, completed_meetings,
	remaining_meetings, price_per_student, meeting_revenue, student_count, duration_minutes,
	activity_type, is_online, created_at, updated_at`

func getMeeting(ctx context.Context, q sqlx.ExtContext, id settlement.MeetingID, lock string) (*settlement.Meeting, error) {
	var row meetingRow
	query := q.Rebind(`SELECT ` + meetingColumns + ` FROM meetings WHERE id = ? AND deleted_at IS NULL` + lock)
	if err := sqlx.GetContext(ctx, q, &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lifecycle.NewNotFound("meeting", string(id))
		}
		return nil, fmt.Errorf("get meeting %s: %w", id, err)
	}
	m, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func getCycle(ctx context.Context, q sqlx.ExtContext, id settlement.CycleID) (*settlement.Cycle, error) {
	var row cycleRow
	query := q.Rebind(`SELECT ` + cycleColumns + ` FROM cycles WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lifecycle.NewNotFound("cycle", string(id))
		}
		return nil, fmt.Errorf("get cycle %s: %w", id, err)
	}
	c := row.toDomain()
	return &c, nil
}

func getInstructor(ctx context.Context, q sqlx.ExtContext, id settlement.InstructorID) (*settlement.Instructor, error) {
	var row instructorRow
	query := q.Rebind(`SELECT id, name, rate_frontal, rate_online, rate_private FROM instructors WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, lifecycle.NewNotFound("instructor", string(id))
		}
		return nil, fmt.Errorf("get instructor %s: %w", id, err)
	}
	in := row.toDomain()
	return &in, nil
}

func listRegistrations(ctx context.Context, q sqlx.ExtContext, cycleID settlement.CycleID) ([]settlement.Registration, error) {
	var rows []registrationRow
	query := q.Rebind(`SELECT id, cycle_id, student_id, status, amount FROM registrations WHERE cycle_id = ? ORDER BY id`)
	if err := sqlx.SelectContext(ctx, q, &rows, query, string(cycleID)); err != nil {
		return nil, fmt.Errorf("list registrations of %s: %w", cycleID, err)
	}
	out := make([]settlement.Registration, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func insertMeeting(ctx context.Context, q sqlx.ExtContext, m settlement.Meeting) error {
	row, err := fromMeeting(m)
	if err != nil {
		return err
	}
	query := `INSERT INTO meetings (` + meetingColumns + `) VALUES (
		:id, :cycle_id, :instructor_id, :scheduled_date, :start_time, :end_time, :status,
		:activity_type, :revenue, :instructor_payment, :profit, :rescheduled_to_id, :rescheduled_from_id,
		:notes, :request_json, :status_updated_at, :status_updated_by, :created_at, :deleted_at)`
	if _, err := sqlx.NamedExecContext(ctx, q, query, row); err != nil {
		return fmt.Errorf("insert meeting %s: %w", m.ID, err)
	}
	return nil
}

func updateMeeting(ctx context.Context, q sqlx.ExtContext, m settlement.Meeting) error {
	row, err := fromMeeting(m)
	if err != nil {
		return err
	}
	query := `UPDATE meetings SET
		instructor_id = :instructor_id, scheduled_date = :scheduled_date,
		start_time = :start_time, end_time = :end_time, status = :status,
		activity_type = :activity_type, revenue = :revenue,
		instructor_payment = :instructor_payment, profit = :profit,
		rescheduled_to_id = :rescheduled_to_id, rescheduled_from_id = :rescheduled_from_id,
		notes = :notes, request_json = :request_json,
		status_updated_at = :status_updated_at, status_updated_by = :status_updated_by,
		deleted_at = :deleted_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, q, query, row)
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return lifecycle.NewNotFound("meeting", string(m.ID))
	}
	return nil
}

func progress(ctx context.Context, q sqlx.ExtContext, cycleID settlement.CycleID, lock string) (settlement.Progress, error) {
	var row struct {
		Total     int `db:"total_meetings"`
		Completed int `db:"completed_meetings"`
		Remaining int `db:"remaining_meetings"`
	}
	query := q.Rebind(`SELECT total_meetings, completed_meetings, remaining_meetings FROM cycles WHERE id = ?` + lock)
	if err := sqlx.GetContext(ctx, q, &row, query, string(cycleID)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return settlement.Progress{}, lifecycle.NewNotFound("cycle", string(cycleID))
		}
		return settlement.Progress{}, fmt.Errorf("read counters of %s: %w", cycleID, err)
	}
	return settlement.Progress{Total: row.Total, Completed: row.Completed, Remaining: row.Remaining}, nil
}

func addProgress(ctx context.Context, q sqlx.ExtContext, cycleID settlement.CycleID, completedDelta, remainingDelta int) error {
	query := q.Rebind(`UPDATE cycles
		SET completed_meetings = completed_meetings + ?,
		    remaining_meetings = remaining_meetings + ?,
		    updated_at = ?
		WHERE id = ?`)
	res, err := q.ExecContext(ctx, query, completedDelta, remainingDelta, formatTime(time.Now()), string(cycleID))
	if err != nil {
		return fmt.Errorf("update counters of %s: %w", cycleID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return lifecycle.NewNotFound("cycle", string(cycleID))
	}
	return nil
}

// =============================================================================
// READ-ONLY LISTINGS (forecast.Source, API)
// =============================================================================

// ListMeetings returns non-deleted meetings matching f, ordered by date.
func (s *Store) ListMeetings(ctx context.Context, f settlement.MeetingFilter) ([]settlement.Meeting, error) {
	defer s.rlock()()

	where := []string{"deleted_at IS NULL"}
	var args []any
	if f.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, string(f.CycleID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "status IN (?)")
		args = append(args, statuses)
	}
	if !f.From.IsZero() {
		where = append(where, "scheduled_date >= ?")
		args = append(args, f.From.Format(dateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "scheduled_date <= ?")
		args = append(args, f.To.Format(dateLayout))
	}

	query := `SELECT ` + meetingColumns + ` FROM meetings WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY scheduled_date, start_time, id`
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build meeting query: %w", err)
	}

	var rows []meetingRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	out := make([]settlement.Meeting, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) ListCycles(ctx context.Context) ([]settlement.Cycle, error) {
	defer s.rlock()()

	var rows []cycleRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+cycleColumns+` FROM cycles ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	out := make([]settlement.Cycle, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListExpenses(ctx context.Context, f settlement.ExpenseFilter) ([]settlement.CycleExpense, error) {
	defer s.rlock()()

	where := []string{"1 = 1"}
	var args []any
	if f.CycleID != "" {
		where = append(where, "cycle_id = ?")
		args = append(args, string(f.CycleID))
	}
	if !f.From.IsZero() {
		where = append(where, "incurred_on >= ?")
		args = append(args, f.From.Format(dateLayout))
	}
	if !f.To.IsZero() {
		where = append(where, "incurred_on <= ?")
		args = append(args, f.To.Format(dateLayout))
	}
	query := s.db.Rebind(`SELECT id, cycle_id, meeting_id, kind, description, amount, hours, rate, percentage, incurred_on
		FROM cycle_expenses WHERE ` + strings.Join(where, " AND ") + ` ORDER BY incurred_on, id`)

	var rows []expenseRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	out := make([]settlement.CycleExpense, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// =============================================================================
// INGESTION
// =============================================================================

// SaveCycle inserts a cycle or updates its definition. Progress counters are
// written on insert only.
func (s *Store) SaveCycle(ctx context.Context, c settlement.Cycle) error {
	defer s.wlock()()

	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO cycles (`+cycleColumns+`) VALUES (
		:id, :name, :type, :instructor_id, :total_meetings, :completed_meetings,
		:remaining_meetings, :price_per_student, :meeting_revenue, :student_count, :duration_minutes,
		:activity_type, :is_online, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, type = excluded.type, instructor_id = excluded.instructor_id,
			total_meetings = excluded.total_meetings, price_per_student = excluded.price_per_student,
			meeting_revenue = excluded.meeting_revenue, student_count = excluded.student_count,
			duration_minutes = excluded.duration_minutes, activity_type = excluded.activity_type,
			is_online = excluded.is_online, updated_at = excluded.updated_at`, fromCycle(c))
	if err != nil {
		return fmt.Errorf("save cycle %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) SaveInstructor(ctx context.Context, in settlement.Instructor) error {
	defer s.wlock()()

	row := instructorRow{
		ID:          string(in.ID),
		Name:        in.Name,
		RateFrontal: in.RateFrontal,
		RateOnline:  in.RateOnline,
		RatePrivate: in.RatePrivate,
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO instructors (id, name, rate_frontal, rate_online, rate_private)
		VALUES (:id, :name, :rate_frontal, :rate_online, :rate_private)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, rate_frontal = excluded.rate_frontal,
			rate_online = excluded.rate_online, rate_private = excluded.rate_private`, row)
	if err != nil {
		return fmt.Errorf("save instructor %s: %w", in.ID, err)
	}
	return nil
}

func (s *Store) SaveRegistration(ctx context.Context, r settlement.Registration) error {
	defer s.wlock()()

	row := registrationRow{
		ID:        string(r.ID),
		CycleID:   string(r.CycleID),
		StudentID: r.StudentID,
		Status:    string(r.Status),
		Amount:    r.Amount,
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO registrations (id, cycle_id, student_id, status, amount)
		VALUES (:id, :cycle_id, :student_id, :status, :amount)
		ON CONFLICT (id) DO UPDATE SET
			cycle_id = excluded.cycle_id, student_id = excluded.student_id,
			status = excluded.status, amount = excluded.amount`, row)
	if err != nil {
		return fmt.Errorf("save registration %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) SaveExpense(ctx context.Context, e settlement.CycleExpense) error {
	defer s.wlock()()

	row := expenseRow{
		ID:          string(e.ID),
		CycleID:     string(e.CycleID),
		Kind:        string(e.Kind),
		Description: e.Description,
		Amount:      e.Amount,
		Hours:       e.Hours,
		Rate:        e.Rate,
		Percentage:  e.Percentage,
		IncurredOn:  formatDate(e.IncurredOn),
	}
	if e.MeetingID != nil {
		row.MeetingID = nullString(string(*e.MeetingID))
	}
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO cycle_expenses
		(id, cycle_id, meeting_id, kind, description, amount, hours, rate, percentage, incurred_on)
		VALUES (:id, :cycle_id, :meeting_id, :kind, :description, :amount, :hours, :rate, :percentage, :incurred_on)
		ON CONFLICT (id) DO UPDATE SET
			cycle_id = excluded.cycle_id, meeting_id = excluded.meeting_id, kind = excluded.kind,
			description = excluded.description, amount = excluded.amount, hours = excluded.hours,
			rate = excluded.rate, percentage = excluded.percentage, incurred_on = excluded.incurred_on`, row)
	if err != nil {
		return fmt.Errorf("save expense %s: %w", e.ID, err)
	}
	return nil
}
