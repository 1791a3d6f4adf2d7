package sqlstore

// schema is written in the subset of SQL that SQLite and PostgreSQL share.
// Money is TEXT holding a decimal string; dates are TEXT ("2006-01-02" for
// calendar dates, RFC 3339 for instants) so both dialects compare them the
// same way.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS instructors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		rate_frontal TEXT,
		rate_online TEXT,
		rate_private TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		instructor_id TEXT,
		total_meetings INTEGER NOT NULL DEFAULT 0,
		completed_meetings INTEGER NOT NULL DEFAULT 0 CHECK (completed_meetings >= 0),
		remaining_meetings INTEGER NOT NULL DEFAULT 0 CHECK (remaining_meetings >= 0),
		price_per_student TEXT,
		meeting_revenue TEXT,
		student_count INTEGER,
		duration_minutes INTEGER NOT NULL DEFAULT 0,
		activity_type TEXT NOT NULL DEFAULT '',
		is_online INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS registrations (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		student_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		amount TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_registrations_cycle ON registrations(cycle_id)`,

	`CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		instructor_id TEXT,
		scheduled_date TEXT NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		activity_type TEXT NOT NULL DEFAULT '',
		revenue TEXT NOT NULL DEFAULT '0',
		instructor_payment TEXT NOT NULL DEFAULT '0',
		profit TEXT NOT NULL DEFAULT '0',
		rescheduled_to_id TEXT,
		rescheduled_from_id TEXT,
		notes TEXT NOT NULL DEFAULT '',
		request_json TEXT,
		status_updated_at TEXT,
		status_updated_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		deleted_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_cycle ON meetings(cycle_id)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_status_date ON meetings(status, scheduled_date)`,
	// A meeting has at most one successor.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_meetings_rescheduled_from
		ON meetings(rescheduled_from_id) WHERE rescheduled_from_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS cycle_expenses (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		meeting_id TEXT,
		kind TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT,
		hours TEXT,
		rate TEXT,
		percentage TEXT,
		incurred_on TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cycle_expenses_cycle ON cycle_expenses(cycle_id)`,
}
