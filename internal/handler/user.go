package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tourneyhub/identity/internal/auth"
	"github.com/tourneyhub/identity/internal/repository"
)

// UserHandler serves user records as JSON. Page rendering lives elsewhere;
// these endpoints back it.
type UserHandler struct {
	users    repository.UserRepository
	resolver *auth.UserResolver
	logger   *slog.Logger
}

func NewUserHandler(users repository.UserRepository, resolver *auth.UserResolver, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:    users,
		resolver: resolver,
		logger:   logger,
	}
}

// HandleMe returns the resolved current user, honoring any active view-as
// override.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	u, err := h.resolver.Resolve(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleGet returns one user by id.
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.ByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
