package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/evalport/evalport/internal/exam"
	"github.com/evalport/evalport/internal/grading"
	appI18n "github.com/evalport/evalport/internal/i18n"
	"github.com/evalport/evalport/internal/period"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respondError writes a localized error body for the given message ID.
func respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID)})
}

// decodeValid decodes the JSON request body into dst and runs struct
// validation. On failure it writes the response itself and reports false.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		resp := errorResponse{Error: appI18n.T(r.Context(), "ErrValidation")}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				resp.Fields = append(resp.Fields, fe.Namespace()+": "+fe.Tag())
			}
		}
		respondJSON(w, http.StatusBadRequest, resp)
		return false
	}
	return true
}

// serviceErrors maps domain sentinels to an HTTP status and a translation
// message ID. Anything not listed is a 500.
var serviceErrors = []struct {
	err    error
	status int
	msgID  string
}{
	{exam.ErrAssessmentNotFound, http.StatusNotFound, "ErrAssessmentNotFound"},
	{exam.ErrAttemptNotFound, http.StatusNotFound, "ErrAttemptNotFound"},
	{exam.ErrQuestionNotFound, http.StatusNotFound, "ErrQuestionNotFound"},
	{exam.ErrAttemptForbidden, http.StatusForbidden, "ErrForbidden"},
	{exam.ErrNotOpenYet, http.StatusConflict, "ErrNotOpenYet"},
	{exam.ErrClosed, http.StatusConflict, "ErrClosed"},
	{exam.ErrNoAttemptsRemaining, http.StatusConflict, "ErrNoAttemptsRemaining"},
	{exam.ErrAttemptAlreadyInProgress, http.StatusConflict, "ErrAttemptAlreadyInProgress"},
	{exam.ErrAttemptNotActive, http.StatusConflict, "ErrAttemptNotActive"},
	{exam.ErrNotInProgress, http.StatusConflict, "ErrNotInProgress"},
	{exam.ErrNotGraded, http.StatusConflict, "ErrNotGraded"},
	{exam.ErrInvalidAnswerShape, http.StatusBadRequest, "ErrInvalidAnswerShape"},
	{exam.ErrNotFreeText, http.StatusBadRequest, "ErrNotFreeText"},
	{exam.ErrScoreOutOfRange, http.StatusBadRequest, "ErrScoreOutOfRange"},
	{exam.ErrNothingToRegrade, http.StatusNotFound, "ErrQuestionNotFound"},
	{period.ErrPeriodNotFound, http.StatusNotFound, "ErrPeriodNotFound"},
	{period.ErrSemesterNotFound, http.StatusNotFound, "ErrSemesterNotFound"},
	{period.ErrInvalidRange, http.StatusBadRequest, "ErrInvalidRange"},
	{period.ErrInvalidWeight, http.StatusBadRequest, "ErrInvalidWeight"},
	{period.ErrDateConflict, http.StatusConflict, "ErrDateConflict"},
	{period.ErrWeightExceeded, http.StatusConflict, "ErrWeightExceeded"},
	{grading.ErrNoData, http.StatusNotFound, "ErrNoData"},
}

// respondServiceError translates a service-layer error into the API response.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			respondError(w, r, m.status, m.msgID)
			return
		}
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	respondError(w, r, http.StatusInternalServerError, "ErrInternal")
}
