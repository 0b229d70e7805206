// Package api is the HTTP surface of the tutor service. Authentication
// happens upstream; handlers trust the X-Auth-User header set by the
// gateway and never see credentials.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cs15tutor/engine/internal/api/respond"
	"github.com/cs15tutor/engine/internal/hpoints"
	"github.com/cs15tutor/engine/internal/identity"
	"github.com/cs15tutor/engine/internal/model"
	"github.com/cs15tutor/engine/internal/session"
	"github.com/cs15tutor/engine/internal/store"
	"github.com/cs15tutor/engine/internal/tutor"
)

// Identity headers set by the authenticating gateway.
const (
	headerAuthUser     = "X-Auth-User"
	headerAuthPlatform = "X-Auth-Platform"
)

// HealthReporter exposes the aggregate service health flag.
type HealthReporter interface {
	IsHealthy() bool
}

// Handlers holds the request handlers and their collaborators.
type Handlers struct {
	store    store.Store
	orch     *tutor.Orchestrator
	hp       *hpoints.Service
	sessions session.Store
	health   HealthReporter
	log      zerolog.Logger
}

func NewHandlers(st store.Store, orch *tutor.Orchestrator, hp *hpoints.Service, sessions session.Store, health HealthReporter, log zerolog.Logger) *Handlers {
	return &Handlers{
		store:    st,
		orch:     orch,
		hp:       hp,
		sessions: sessions,
		health:   health,
		log:      log,
	}
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

type chatResponse struct {
	Response       string                   `json:"response"`
	ConversationID string                   `json:"conversation_id"`
	RAGContext     string                   `json:"rag_context,omitempty"`
	ResponseTimeMs int64                    `json:"response_time_ms"`
	Metadata       model.ResultMetadata     `json:"metadata"`
	HealthStatus   model.HealthStatus       `json:"health_status"`
	UserInfo       tutor.InteractionSummary `json:"user_info"`
}

type deniedResponse struct {
	Error        string             `json:"error"`
	HealthStatus model.HealthStatus `json:"health_status"`
}

// authUser resolves the authenticated principal from gateway headers to
// a stored anonymous user. Returns nil after writing the error response.
func (h *Handlers) authUser(w http.ResponseWriter, r *http.Request) (*model.AnonymousUser, string) {
	utln := r.Header.Get(headerAuthUser)
	if utln == "" {
		respond.WriteUnauthorized(w, "missing authenticated user")
		return nil, ""
	}
	platform := r.Header.Get(headerAuthPlatform)
	if platform != model.PlatformVSCode {
		platform = model.PlatformWeb
	}

	user, _, err := h.store.Users().GetOrCreate(r.Context(), identity.Hash(utln))
	if err != nil {
		h.log.Error().Err(err).Msg("user resolution failed")
		respond.WriteInternalError(w, "failed to resolve user")
		return nil, ""
	}
	return user, platform
}

// Chat handles POST /api: admission, quality-gated generation inside the
// per-conversation critical section, context accumulation, and logging.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	user, platform := h.authUser(w, r)
	if user == nil {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Message == "" {
		respond.WriteBadRequest(w, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	allowed, _, err := h.hp.Admit(r.Context(), user)
	if err != nil {
		h.log.Error().Err(err).Msg("admission check failed")
		respond.WriteInternalError(w, "rate limit check failed")
		return
	}
	if !allowed {
		status, err := h.hp.Status(r.Context(), user)
		if err != nil {
			h.log.Error().Err(err).Msg("health status lookup failed")
			respond.WriteInternalError(w, "rate limit check failed")
			return
		}
		respond.WriteJSON(w, http.StatusTooManyRequests, deniedResponse{
			Error:        "You have no health points remaining. Points regenerate over time.",
			HealthStatus: status,
		})
		return
	}

	// Concurrent requests for the same conversation serialize here so
	// each turn sees the context and history the previous turn left.
	var result *model.ProcessResult
	sess := h.sessions.Get(req.ConversationID)
	sess.Do(func(s *session.Session) {
		result = h.orch.ProcessQuery(r.Context(), tutor.ProcessRequest{
			Message:            req.Message,
			ConversationID:     req.ConversationID,
			History:            s.History(),
			User:               user,
			Platform:           platform,
			AccumulatedContext: s.Context(),
		})
		s.AppendContext(result.RAGContext)
		s.AppendTurn(req.Message, result.Response)
	})

	summary := h.orch.LogInteraction(r.Context(), user.UTLNHash, req.ConversationID,
		req.Message, result.Response, platform, result.RAGContext, result.ResponseTimeMs)

	status, err := h.hp.Status(r.Context(), user)
	if err != nil {
		h.log.Warn().Err(err).Msg("health status lookup failed after processing")
	}

	respond.WriteJSON(w, http.StatusOK, chatResponse{
		Response:       result.Response,
		ConversationID: result.ConversationID,
		RAGContext:     result.RAGContext,
		ResponseTimeMs: result.ResponseTimeMs,
		Metadata:       result.Metadata,
		HealthStatus:   status,
		UserInfo:       summary,
	})
}

// HealthStatus handles GET /health-status: the caller's point ledger.
func (h *Handlers) HealthStatus(w http.ResponseWriter, r *http.Request) {
	user, _ := h.authUser(w, r)
	if user == nil {
		return
	}

	status, err := h.hp.Status(r.Context(), user)
	if err != nil {
		h.log.Error().Err(err).Msg("health status lookup failed")
		respond.WriteInternalError(w, "failed to read health points")
		return
	}
	respond.WriteJSON(w, http.StatusOK, status)
}

// Health handles GET /health: the aggregate service flag.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && !h.health.IsHealthy() {
		respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Analytics handles GET /analytics: aggregate usage counters.
func (h *Handlers) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.store.Analytics(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("analytics query failed")
		respond.WriteInternalError(w, "failed to compute analytics")
		return
	}
	respond.WriteJSON(w, http.StatusOK, a)
}
