package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS semesters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		school_year TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS grading_periods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		semester_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		weight_percent INTEGER NOT NULL,
		FOREIGN KEY (semester_id) REFERENCES semesters(id)
	);

	CREATE TABLE IF NOT EXISTS assessments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subject_id INTEGER NOT NULL,
		period_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		time_limit_minutes INTEGER NOT NULL DEFAULT 0,
		attempts_allowed INTEGER NOT NULL DEFAULT 0,
		opens_at DATETIME,
		closes_at DATETIME,
		FOREIGN KEY (period_id) REFERENCES grading_periods(id)
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL,
		points REAL NOT NULL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id)
	);

	CREATE TABLE IF NOT EXISTS choices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		question_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		text TEXT NOT NULL,
		correct INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'in_progress',
		ended_by TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		deadline DATETIME,
		submitted_at DATETIME,
		score REAL,
		max_score REAL NOT NULL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id),
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	-- At most one in-progress attempt per (assessment, student); the insert
	-- in StartAttempt relies on this to stay race-free.
	CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
		ON attempts(assessment_id, student_id)
		WHERE status = 'in_progress';

	CREATE TABLE IF NOT EXISTS attempt_answers (
		attempt_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		answer TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (attempt_id, question_id),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS attempt_scores (
		attempt_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		earned REAL,
		pending INTEGER NOT NULL DEFAULT 0,
		manual INTEGER NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (attempt_id, question_id),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	) WITHOUT ROWID;

	CREATE TABLE IF NOT EXISTS activity_scores (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL,
		subject_id INTEGER NOT NULL,
		period_id INTEGER NOT NULL,
		score_percent REAL NOT NULL,
		recorded_by INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL,
		UNIQUE (student_id, subject_id, period_id),
		FOREIGN KEY (period_id) REFERENCES grading_periods(id)
	);

	CREATE TABLE IF NOT EXISTS portal_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
