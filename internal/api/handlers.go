package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abkawan/bank-transfers/internal/db"
	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/abkawan/bank-transfers/internal/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler is for handling api requests
type Handler struct {
	users   *service.UserService
	journal *service.JournalService
	logger  *zap.SugaredLogger
}

func NewHandler(users *service.UserService, journal *service.JournalService, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		users:   users,
		journal: journal,
		logger:  logger,
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// for error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps service errors to status codes. Unknown errors are logged and hidden.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrSameAccount),
		errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, service.ErrInvalidSearch),
		errors.Is(err, service.ErrLastContact):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, db.ErrVersionConflict):
		respondError(w, http.StatusConflict, "account was modified concurrently, retry the request")
		return
	case errors.Is(err, service.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
	default:
		h.logger.Errorw("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondError(w, status, err.Error())
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// pathUserID reads {id} and checks that it is the caller. It writes the error response itself.
func (h *Handler) pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}

	caller, ok := userIDFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return 0, false
	}
	if caller != id {
		respondError(w, http.StatusForbidden, "access to another user is not allowed")
		return 0, false
	}
	return id, true
}

// handles token issuing
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req models.AuthRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	token, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.AuthResponse{JWT: token})
}

// user creation
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	u, err := h.users.CreateUser(r.Context(), &req)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, models.NewUserResponse(u))
}

// handles retrieval of the caller's own user
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewUserResponse(u))
}

func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	var req models.UpdateContactRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if req.Phone == "" && req.Email == "" {
		respondError(w, http.StatusBadRequest, "phone or email is required")
		return
	}

	u, err := h.users.UpdateContact(r.Context(), id, req.Phone, req.Email)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewUserResponse(u))
}

// DeleteContact takes ?phone=true and/or ?email=true
func (h *Handler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	deletePhone, err1 := parseBoolParam(r, "phone")
	deleteEmail, err2 := parseBoolParam(r, "email")
	if err1 != nil || err2 != nil {
		respondError(w, http.StatusBadRequest, "phone and email must be booleans")
		return
	}
	if !deletePhone && !deleteEmail {
		respondError(w, http.StatusBadRequest, "nothing to delete")
		return
	}

	u, err := h.users.DeleteContact(r.Context(), id, deletePhone, deleteEmail)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.NewUserResponse(u))
}

// handles a transfer from the caller to another user
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := userIDFrom(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req models.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	if err := h.users.TransferFunds(r.Context(), caller, req.ToUserID, req.Amount); err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	resp := models.TransferResponse{Status: "completed", ToUserID: req.ToUserID, Amount: req.Amount}
	if u, err := h.users.GetUser(r.Context(), caller); err == nil && u.Account != nil {
		resp.Balance = u.Account.Balance
	}
	respondJSON(w, http.StatusOK, resp)
}

// handles user search
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := models.UserFilter{
		Phone:          strings.TrimSpace(q.Get("phone")),
		FullNamePrefix: strings.TrimSpace(q.Get("full_name")),
		Email:          strings.TrimSpace(q.Get("email")),
	}
	if v := q.Get("birth_date"); v != "" {
		d, err := time.Parse(models.DateLayout, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "birth_date must look like "+models.DateLayout)
			return
		}
		filter.BirthDateAfter = &d
	}

	page, err := parseIntParam(r, "page", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "page must be a number")
		return
	}
	size, err := parseIntParam(r, "size", models.DefaultPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "size must be a number")
		return
	}

	users, err := h.users.Search(r.Context(), filter, page, size, q["sort"])
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	response := make([]models.ProfileResponse, 0, len(users))
	for _, u := range users {
		response = append(response, models.NewProfileResponse(u))
	}
	respondJSON(w, http.StatusOK, response)
}

// handles journal retrieval for the caller's account
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathUserID(w, r)
	if !ok {
		return
	}

	// default limit is set to 10
	limit := 10
	if parsed, err := parseIntParam(r, "limit", limit); err == nil && parsed > 0 {
		limit = parsed
	}
	offset := 0
	if parsed, err := parseIntParam(r, "offset", 0); err == nil && parsed >= 0 {
		offset = parsed
	}

	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	entries, err := h.journal.History(r.Context(), u.AccountID, limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

// handles health check
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// sets up the API routes
func SetupRoutes(r *mux.Router, users *service.UserService, journal *service.JournalService, jwtSecret []byte, logger *zap.SugaredLogger) {
	h := NewHandler(users, journal, logger)

	r.Use(RequestIDMiddleware, LoggingMiddleware(logger), SecurityHeadersMiddleware)

	// Health check (check if API is working)
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// public routes
	r.HandleFunc("/api/authenticate", h.Authenticate).Methods("POST")
	r.HandleFunc("/api/users", h.CreateUser).Methods("POST")

	// everything else under /api/users needs a token
	protected := r.PathPrefix("/api/users").Subrouter()
	protected.Use(AuthMiddleware(jwtSecret))

	protected.HandleFunc("/transfer", h.Transfer).Methods("POST")
	protected.HandleFunc("/search", h.SearchUsers).Methods("GET")
	protected.HandleFunc("/{id:[0-9]+}", h.GetUser).Methods("GET")
	protected.HandleFunc("/{id:[0-9]+}/contact", h.UpdateContact).Methods("PUT")
	protected.HandleFunc("/{id:[0-9]+}/contact", h.DeleteContact).Methods("DELETE")
	protected.HandleFunc("/{id:[0-9]+}/history", h.GetHistory).Methods("GET")
}
