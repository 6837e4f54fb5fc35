package handlers

import (
	"encoding/json"
	"net/http"
)

// LoginRequest is the optional body of POST /api/session
type LoginRequest struct {
	DisplayName string `json:"display_name"`
}

// ContactRequest is the body of POST /api/contact
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Login handles POST /api/session. The profile row is created on first login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)
	if userID == "" {
		h.sendServiceError(w, r, "login", errNoSession)
		return
	}

	var req LoginRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, r, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	session, err := h.accounts.Login(r.Context(), userID, req.DisplayName)
	if err != nil {
		h.sendServiceError(w, r, "login", err)
		return
	}

	status := http.StatusOK
	if session.Created {
		status = http.StatusCreated
	}
	h.respond(w, r, session, status)
}

// Me handles GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)
	if userID == "" {
		h.sendServiceError(w, r, "get session", errNoSession)
		return
	}

	session, err := h.accounts.Session(r.Context(), userID)
	if err != nil {
		h.sendServiceError(w, r, "get session", err)
		return
	}
	h.respond(w, r, session, http.StatusOK)
}

// ListUsers handles GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pagination(r)

	profiles, err := h.accounts.ListProfiles(r.Context(), limit, offset)
	if err != nil {
		h.sendServiceError(w, r, "list users", err)
		return
	}
	h.respond(w, r, PaginatedResponse{Data: profiles, Page: page, Limit: limit}, http.StatusOK)
}

// SubmitContact handles POST /api/contact
func (h *Handler) SubmitContact(w http.ResponseWriter, r *http.Request) {
	var req ContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}

	msg, err := h.accounts.SubmitContact(r.Context(), req.Name, req.Email, req.Message, requestUser(r))
	if err != nil {
		h.sendServiceError(w, r, "submit contact", err)
		return
	}
	h.respond(w, r, msg, http.StatusCreated)
}

// ListContactMessages handles GET /api/contact
func (h *Handler) ListContactMessages(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pagination(r)

	messages, err := h.accounts.ListContactMessages(r.Context(), limit, offset)
	if err != nil {
		h.sendServiceError(w, r, "list contact messages", err)
		return
	}
	h.respond(w, r, PaginatedResponse{Data: messages, Page: page, Limit: limit}, http.StatusOK)
}
