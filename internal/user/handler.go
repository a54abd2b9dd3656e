package user

import (
	"encoding/json"
	"errors"
	"net/http"

	myMiddleware "go-chat-hub/internal/middleware"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type Handler struct {
	Service *Service
	log     zerolog.Logger
}

func NewHandler(s *Service, log zerolog.Logger) *Handler {
	return &Handler{Service: s, log: log.With().Str("component", "user").Logger()}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		myMiddleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		var verr validator.ValidationErrors
		switch {
		case errors.As(err, &verr):
			myMiddleware.WriteError(w, http.StatusBadRequest, "username and password are required")
		case errors.Is(err, ErrUserExists):
			myMiddleware.WriteError(w, http.StatusConflict, err.Error())
		default:
			h.log.Error().Err(err).Msg("register failed")
			myMiddleware.WriteError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	h.log.Info().Str("user_id", res.ID).Str("username", res.Username).Msg("user registered")
	myMiddleware.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		myMiddleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			h.log.Error().Err(err).Msg("login failed")
		}
		myMiddleware.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	myMiddleware.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		myMiddleware.WriteError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	h.Service.Logout(r.Context(), userID)
	if name, ok := myMiddleware.Username(r.Context()); ok {
		h.log.Info().Str("user_id", userID).Str("username", name).Msg("user logged out")
	}
	myMiddleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list users failed")
		myMiddleware.WriteError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.log.Error().Err(err).Msg("search users failed")
		myMiddleware.WriteError(w, http.StatusInternalServerError, "search failed")
		return
	}
	myMiddleware.WriteJSON(w, http.StatusOK, users)
}
