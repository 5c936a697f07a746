package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/avia/internal/analysis"
	"github.com/opensource-finance/avia/internal/auth"
	"github.com/opensource-finance/avia/internal/documents"
	"github.com/opensource-finance/avia/internal/domain"
	"github.com/opensource-finance/avia/internal/repository"
	"github.com/opensource-finance/avia/internal/scoring"
)

// ModelInfo reports the scoring engine's artifact state.
type ModelInfo interface {
	Available() bool
	Status() scoring.Status
}

// Deps are the collaborators behind the HTTP API. Cache and Bus may be nil.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Analysis  *analysis.Service
	Model     ModelInfo
	Auth      *auth.Service
	Documents *documents.Store
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	analysis  *analysis.Service
	model     ModelInfo
	auth      *auth.Service
	documents *documents.Store
	version   string
	tier      domain.Tier
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string, tier domain.Tier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:      deps.Repo,
		cache:     deps.Cache,
		bus:       deps.Bus,
		analysis:  deps.Analysis,
		model:     deps.Model,
		auth:      deps.Auth,
		documents: deps.Documents,
		version:   version,
		tier:      tier,
		logger:    logger,
		now:       time.Now,
	}
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status         string            `json:"status"`
	Version        string            `json:"version"`
	Tier           domain.Tier       `json:"tier"`
	MLModelsLoaded bool              `json:"mlModelsLoaded"`
	Checks         map[string]string `json:"checks"`
}

// Health returns server health status. A failing dependency degrades the
// status but the endpoint itself always answers 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Tier:    h.tier,
		Checks:  make(map[string]string),
	}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = "error: " + err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	if h.repo != nil {
		check("database", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("eventBus", func() error { return h.bus.Ping(ctx) })
	}
	if h.model != nil {
		resp.MLModelsLoaded = h.model.Available()
		if resp.MLModelsLoaded {
			resp.Checks["model"] = "ok"
		} else {
			resp.Checks["model"] = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
				"error": "database unavailable",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// LoginRequest is the request body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response for POST /auth/login.
type LoginResponse struct {
	Token        string               `json:"token"`
	ExpiresAt    time.Time            `json:"expiresAt"`
	User         *domain.User         `json:"user"`
	Organization *domain.Organization `json:"organization,omitempty"`
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req LoginRequest
	if err := decodeJSON(w, r, &req, maxLoginBody); err != nil {
		writeError(w, err)
		return
	}

	session, user, err := h.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) && !errors.Is(err, auth.ErrTooManyAttempts) {
			h.logger.Error("login failed", "error", err)
		}
		writeError(w, err)
		return
	}

	resp := LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      user,
	}
	if org, err := h.repo.GetOrganization(ctx, user.OrgID); err == nil {
		resp.Organization = org
	}
	writeJSON(w, http.StatusOK, resp)
}

// Logout handles POST /auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), bearerToken(r)); err != nil {
		h.logger.Error("logout failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "logged out",
	})
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := GetUser(ctx)

	resp := map[string]any{
		"user":      user,
		"expiresAt": GetSession(ctx).ExpiresAt,
	}
	if org, err := h.repo.GetOrganization(ctx, user.OrgID); err == nil {
		resp["organization"] = org
	}
	writeJSON(w, http.StatusOK, resp)
}

const (
	maxLoginBody    = 4 << 10
	maxJSONBody     = 64 << 10
	maxClaimData    = 50000
	maxPolicyNumber = 100
)

var errBodyTooLarge = errors.New("request body too large")

// decodeJSON reads a JSON body of at most limit bytes into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, limit int64) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errors.Join(repository.ErrInvalidInput, errors.New("invalid JSON request body"))
	}
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput), errors.Is(err, documents.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, documents.ErrTooLarge), errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, documents.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. Internal errors are not
// echoed to the client.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal server error"
	case http.StatusNotFound:
		msg = "not found"
	case http.StatusBadRequest:
		msg = clientMessage(err)
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

// clientMessage strips the sentinel prefix from wrapped input errors.
func clientMessage(err error) string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		return errs[len(errs)-1].Error()
	}
	return strings.TrimPrefix(err.Error(), repository.ErrInvalidInput.Error()+": ")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
