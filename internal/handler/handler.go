// Package handler exposes the portal as a JSON API over chi.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/evalport/evalport/internal/exam"
	"github.com/evalport/evalport/internal/grading"
	"github.com/evalport/evalport/internal/model"
	"github.com/evalport/evalport/internal/period"
	"github.com/evalport/evalport/internal/store"
)

// Config carries the handler-level settings read from the command line.
type Config struct {
	SecureCookies bool
	SchoolName    string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	exams   *exam.Service
	periods *period.Scheduler
	grades  *grading.Aggregator
	config  Config
}

// New creates a new Handler.
func New(s *store.Store, ex *exam.Service, sched *period.Scheduler, agg *grading.Aggregator, cfg Config) *Handler {
	return &Handler{store: s, exams: ex, periods: sched, grades: agg, config: cfg}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)

		r.Get("/assessments", h.handleListAssessments)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleStudent))
			r.Post("/attempts", h.handleStartAttempt)
			r.Get("/attempts", h.handleListMyAttempts)
			r.Get("/attempts/{attemptID}", h.handleGetAttempt)
			r.Put("/attempts/{attemptID}/answers/{questionID}", h.handleSaveAnswer)
			r.Post("/attempts/{attemptID}/submit", h.handleSubmitAttempt)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Post("/attempts/{attemptID}/questions/{questionID}/grade", h.handleGradeFreeText)
			r.Post("/periods", h.handleCreatePeriod)
			r.Put("/periods/{periodID}", h.handleUpdatePeriod)
			r.Post("/activity-scores", h.handleRecordActivity)
			r.Post("/admin/assessments/import", h.handleImportAssessments)
		})

		r.Get("/periods/current", h.handleCurrentPeriod)
		r.Get("/grades/final", h.handleFinalGrade)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleListUsers)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle", h.handleToggleUserActive)
			r.Get("/admin/export", h.handleExportResults)
		})
	})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

type startAttemptRequest struct {
	AssessmentID int64 `json:"assessment_id" validate:"required,gt=0"`
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if !decodeValid(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())

	res, err := h.exams.StartAttempt(r.Context(), req.AssessmentID, user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := pathID(r, "attemptID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	user := model.UserFromContext(r.Context())

	res, err := h.exams.GetAttempt(r.Context(), attemptID, user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleListMyAttempts(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	attempts, err := h.store.ListAttemptsByStudent(user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := pathID(r, "attemptID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	questionID, ok := pathID(r, "questionID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	var ans model.Answer
	if !decodeValid(w, r, &ans) {
		return
	}
	user := model.UserFromContext(r.Context())

	if err := h.exams.SaveAnswer(r.Context(), attemptID, user.ID, questionID, ans); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := pathID(r, "attemptID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	user := model.UserFromContext(r.Context())

	res, err := h.exams.Submit(r.Context(), attemptID, user.ID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

type gradeRequest struct {
	Points  float64 `json:"points" validate:"gte=0"`
	Comment string  `json:"comment" validate:"max=2000"`
}

func (h *Handler) handleGradeFreeText(w http.ResponseWriter, r *http.Request) {
	attemptID, ok := pathID(r, "attemptID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	questionID, ok := pathID(r, "questionID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	var req gradeRequest
	if !decodeValid(w, r, &req) {
		return
	}

	attempt, err := h.exams.GradeFreeText(r.Context(), attemptID, questionID, req.Points, req.Comment)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

func (h *Handler) handleListAssessments(w http.ResponseWriter, r *http.Request) {
	assessments, err := h.store.ListAssessments()
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assessments)
}

type periodRequest struct {
	SemesterID    int64     `json:"semester_id" validate:"required,gt=0"`
	Name          string    `json:"name" validate:"required,max=100"`
	StartDate     time.Time `json:"start_date" validate:"required"`
	EndDate       time.Time `json:"end_date" validate:"required"`
	WeightPercent int       `json:"weight_percent" validate:"gte=0,lte=100"`
}

func (h *Handler) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if !decodeValid(w, r, &req) {
		return
	}

	id, err := h.periods.Create(r.Context(), model.GradingPeriod{
		SemesterID:    req.SemesterID,
		Name:          req.Name,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		WeightPercent: req.WeightPercent,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	p, err := h.periods.Get(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleUpdatePeriod(w http.ResponseWriter, r *http.Request) {
	periodID, ok := pathID(r, "periodID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	var req periodRequest
	if !decodeValid(w, r, &req) {
		return
	}

	err := h.periods.Update(r.Context(), periodID, model.GradingPeriod{
		Name:          req.Name,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		WeightPercent: req.WeightPercent,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	p, err := h.periods.Get(r.Context(), periodID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) handleCurrentPeriod(w http.ResponseWriter, r *http.Request) {
	semesterID, err := strconv.ParseInt(r.URL.Query().Get("semester_id"), 10, 64)
	if err != nil || semesterID <= 0 {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	p, err := h.periods.CurrentActive(r.Context(), semesterID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if p == nil {
		respondError(w, r, http.StatusNotFound, "ErrPeriodNotFound")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type activityRequest struct {
	StudentID    int64   `json:"student_id" validate:"required,gt=0"`
	SubjectID    int64   `json:"subject_id" validate:"required,gt=0"`
	PeriodID     int64   `json:"period_id" validate:"required,gt=0"`
	ScorePercent float64 `json:"score_percent" validate:"gte=0,lte=100"`
}

func (h *Handler) handleRecordActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !decodeValid(w, r, &req) {
		return
	}
	user := model.UserFromContext(r.Context())

	err := h.store.UpsertActivityScore(model.ActivityScore{
		StudentID:    req.StudentID,
		SubjectID:    req.SubjectID,
		PeriodID:     req.PeriodID,
		ScorePercent: req.ScorePercent,
		RecordedBy:   user.ID,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) handleFinalGrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subjectID, err1 := strconv.ParseInt(q.Get("subject_id"), 10, 64)
	semesterID, err2 := strconv.ParseInt(q.Get("semester_id"), 10, 64)
	if err1 != nil || err2 != nil || subjectID <= 0 || semesterID <= 0 {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	// Students may only read their own grade; teachers and admins pass any
	// student_id.
	user := model.UserFromContext(r.Context())
	studentID := user.ID
	if user.Role != model.UserRoleStudent {
		studentID, err1 = strconv.ParseInt(q.Get("student_id"), 10, 64)
		if err1 != nil || studentID <= 0 {
			respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
			return
		}
	}

	final, err := h.grades.Final(r.Context(), studentID, subjectID, semesterID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, final)
}
