package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/evalport/evalport/internal/model"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		slog.Error("failed to list users", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	type userView struct {
		ID          int64          `json:"id"`
		Username    string         `json:"username"`
		DisplayName string         `json:"display_name"`
		ExternalID  string         `json:"external_id,omitempty"`
		Role        model.UserRole `json:"role"`
		Active      bool           `json:"active"`
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, userView{
			ID:          u.ID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			ExternalID:  u.ExternalID,
			Role:        u.Role,
			Active:      u.Active,
		})
	}
	respondJSON(w, http.StatusOK, views)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,max=100"`
	DisplayName string         `json:"display_name" validate:"max=200"`
	ExternalID  string         `json:"external_id" validate:"max=100"`
	Password    string         `json:"password" validate:"required,min=8"`
	Role        model.UserRole `json:"role" validate:"required,oneof=student teacher admin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeValid(w, r, &req) {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	id, err := h.store.CreateUser(model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		ExternalID:   req.ExternalID,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	})
	if err != nil {
		slog.Error("failed to create user", "error", err)
		respondError(w, r, http.StatusConflict, "ErrValidation")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "userID")
	if !ok {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	if err := h.store.ToggleUserActive(id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// handleImportAssessments accepts a JSON file of assessments and their
// questions. A file whose content hash matches a previous import is skipped
// so a repeated upload cannot duplicate assessments.
func (h *Handler) handleImportAssessments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	file, header, err := r.FormFile("assessments_file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	storedHash, err := h.store.GetImportedFileHash(header.Filename)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if storedHash == hash {
		respondJSON(w, http.StatusOK, map[string]any{"imported": 0, "skipped": true})
		return
	}

	var imports []model.AssessmentImport
	if err := json.Unmarshal(data, &imports); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	for _, ai := range imports {
		a, questions := ai.Assessment()
		if _, err := h.store.CreateAssessment(a, questions); err != nil {
			slog.Error("failed to import assessment", "title", a.Title, "error", err)
			respondError(w, r, http.StatusInternalServerError, "ErrInternal")
			return
		}
	}

	if err := h.store.SetImportedFileHash(header.Filename, hash); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	slog.Info("imported assessments via admin", "filename", header.Filename, "count", len(imports))
	respondJSON(w, http.StatusOK, map[string]any{"imported": len(imports)})
}

func (h *Handler) handleExportResults(w http.ResponseWriter, r *http.Request) {
	semesterID := int64(0)
	if s := r.URL.Query().Get("semester_id"); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			semesterID = v
		}
	}

	results, err := h.store.ExportAllResults()
	if err != nil {
		slog.Error("failed to export results", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	respondJSON(w, http.StatusOK, model.ResultsExport{
		SchoolName: h.config.SchoolName,
		SemesterID: semesterID,
		Date:       time.Now().Format(time.RFC3339),
		Results:    results,
	})
}
