package store

import (
	"database/sql"
	"time"

	"github.com/evalport/evalport/internal/model"
)

// CreatePeriod inserts a grading period. Date validation happens in the
// scheduler before this is called.
func (s *Store) CreatePeriod(p model.GradingPeriod) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO grading_periods (semester_id, name, start_date, end_date, weight_percent)
		 VALUES (?, ?, ?, ?, ?)`,
		p.SemesterID, p.Name, p.StartDate, p.EndDate, p.WeightPercent,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdatePeriod replaces the mutable fields of a grading period.
func (s *Store) UpdatePeriod(id int64, p model.GradingPeriod) error {
	res, err := s.db.Exec(
		`UPDATE grading_periods SET name = ?, start_date = ?, end_date = ?, weight_percent = ? WHERE id = ?`,
		p.Name, p.StartDate, p.EndDate, p.WeightPercent, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// GetPeriod returns a grading period by ID.
func (s *Store) GetPeriod(id int64) (model.GradingPeriod, error) {
	var p model.GradingPeriod
	err := s.db.QueryRow(
		`SELECT id, semester_id, name, start_date, end_date, weight_percent
		 FROM grading_periods WHERE id = ?`, id,
	).Scan(&p.ID, &p.SemesterID, &p.Name, &p.StartDate, &p.EndDate, &p.WeightPercent)
	return p, err
}

// ListPeriods returns a semester's grading periods ordered by start date.
func (s *Store) ListPeriods(semesterID int64) ([]model.GradingPeriod, error) {
	rows, err := s.db.Query(
		`SELECT id, semester_id, name, start_date, end_date, weight_percent
		 FROM grading_periods WHERE semester_id = ? ORDER BY start_date`, semesterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []model.GradingPeriod
	for rows.Next() {
		var p model.GradingPeriod
		if err := rows.Scan(&p.ID, &p.SemesterID, &p.Name, &p.StartDate, &p.EndDate, &p.WeightPercent); err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

// SumPeriodWeights returns the total weight-percent of a semester's periods.
func (s *Store) SumPeriodWeights(semesterID int64) (int, error) {
	var sum sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(weight_percent) FROM grading_periods WHERE semester_id = ?`, semesterID,
	).Scan(&sum)
	return int(sum.Int64), err
}

// GetActivePeriod returns the semester's period whose half-open window
// contains now, or sql.ErrNoRows.
func (s *Store) GetActivePeriod(semesterID int64, now time.Time) (model.GradingPeriod, error) {
	var p model.GradingPeriod
	err := s.db.QueryRow(
		`SELECT id, semester_id, name, start_date, end_date, weight_percent
		 FROM grading_periods
		 WHERE semester_id = ? AND start_date <= ? AND ? < end_date`,
		semesterID, now, now,
	).Scan(&p.ID, &p.SemesterID, &p.Name, &p.StartDate, &p.EndDate, &p.WeightPercent)
	return p, err
}
