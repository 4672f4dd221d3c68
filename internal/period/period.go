// Package period validates and stores grading-period date ranges and
// weights. Periods within one semester must not overlap; ranges are
// half-open [start, end), so one period ending exactly when another starts
// does not conflict.
package period

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evalport/evalport/internal/model"
	"github.com/evalport/evalport/internal/store"
)

var (
	ErrInvalidRange     = errors.New("period start must be before end")
	ErrDateConflict     = errors.New("period overlaps an existing period")
	ErrInvalidWeight    = errors.New("weight percent must be between 0 and 100")
	ErrWeightExceeded   = errors.New("semester period weights would exceed 100")
	ErrPeriodNotFound   = errors.New("grading period not found")
	ErrSemesterNotFound = errors.New("semester not found")
)

// Scheduler owns grading-period validation. All time-sensitive decisions are
// made lazily against the clock at call time; there is no background
// activation process.
type Scheduler struct {
	store *store.Store
	now   func() time.Time
}

func NewScheduler(st *store.Store) *Scheduler {
	return &Scheduler{store: st, now: time.Now}
}

// ValidateDates reports whether [start, end) is a well-formed range that
// does not overlap any existing period in the semester. excludeID skips one
// period (the one being updated); pass 0 to exclude none.
func (s *Scheduler) ValidateDates(ctx context.Context, semesterID int64, start, end time.Time, excludeID int64) (bool, error) {
	if !start.Before(end) {
		return false, nil
	}
	periods, err := s.store.ListPeriods(semesterID)
	if err != nil {
		return false, fmt.Errorf("list periods: %w", err)
	}
	for _, p := range periods {
		if p.ID == excludeID {
			continue
		}
		// Half-open overlap test: [a,b) and [c,d) intersect iff a < d && c < b.
		if p.StartDate.Before(end) && start.Before(p.EndDate) {
			return false, nil
		}
	}
	return true, nil
}

// Create validates and stores a new grading period. The weight-sum ceiling
// is enforced here only; later weight edits are not re-checked against the
// semester total.
func (s *Scheduler) Create(ctx context.Context, p model.GradingPeriod) (int64, error) {
	if _, err := s.store.GetSemester(p.SemesterID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrSemesterNotFound
		}
		return 0, fmt.Errorf("get semester: %w", err)
	}
	if err := s.checkRange(ctx, p, 0); err != nil {
		return 0, err
	}
	sum, err := s.store.SumPeriodWeights(p.SemesterID)
	if err != nil {
		return 0, fmt.Errorf("sum weights: %w", err)
	}
	if sum+p.WeightPercent > 100 {
		return 0, ErrWeightExceeded
	}
	return s.store.CreatePeriod(p)
}

// Update re-validates and replaces an existing period, excluding itself from
// the overlap check.
func (s *Scheduler) Update(ctx context.Context, id int64, p model.GradingPeriod) error {
	existing, err := s.store.GetPeriod(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPeriodNotFound
		}
		return fmt.Errorf("get period: %w", err)
	}
	p.SemesterID = existing.SemesterID
	if err := s.checkRange(ctx, p, id); err != nil {
		return err
	}
	if err := s.store.UpdatePeriod(id, p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrPeriodNotFound
		}
		return err
	}
	return nil
}

func (s *Scheduler) checkRange(ctx context.Context, p model.GradingPeriod, excludeID int64) error {
	if p.WeightPercent < 0 || p.WeightPercent > 100 {
		return ErrInvalidWeight
	}
	if !p.StartDate.Before(p.EndDate) {
		return ErrInvalidRange
	}
	ok, err := s.ValidateDates(ctx, p.SemesterID, p.StartDate, p.EndDate, excludeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDateConflict
	}
	return nil
}

// Get returns a period by ID.
func (s *Scheduler) Get(ctx context.Context, id int64) (model.GradingPeriod, error) {
	p, err := s.store.GetPeriod(id)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrPeriodNotFound
	}
	return p, err
}

// CurrentActive returns the semester's period whose window contains now, or
// nil when no period is active.
func (s *Scheduler) CurrentActive(ctx context.Context, semesterID int64) (*model.GradingPeriod, error) {
	p, err := s.store.GetActivePeriod(semesterID, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// PeriodStatus returns the temporal state of a period at call time.
func (s *Scheduler) PeriodStatus(ctx context.Context, id int64) (model.PeriodStatus, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return p.Status(s.now()), nil
}
