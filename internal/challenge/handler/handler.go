// Package handler exposes the challenge lifecycle over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"rally/internal/challenge/models"
	"rally/internal/challenge/service"
	id "rally/pkg/domain"
	dErrors "rally/pkg/domain-errors"
	"rally/pkg/platform/httputil"
	authmw "rally/pkg/platform/middleware/auth"
	request "rally/pkg/platform/middleware/request"
)

// Service is the slice of the challenge service the handler needs.
type Service interface {
	CreateChallenge(ctx context.Context, input service.CreateInput) (*models.Challenge, error)
	GetChallenge(ctx context.Context, challengeID id.ChallengeID) (*models.Challenge, []*models.Task, error)
	ListChallenges(ctx context.Context) ([]*models.Challenge, error)
	DeleteChallenge(ctx context.Context, challengeID id.ChallengeID) error
	SelectWinner(ctx context.Context, challengeID id.ChallengeID, winnerID id.MemberID) error
}

// Handler handles challenge endpoints.
type Handler struct {
	service   Service
	logger    *slog.Logger
	validator authmw.TokenValidator
}

// New creates a challenge Handler.
func New(svc Service, logger *slog.Logger, validator authmw.TokenValidator) *Handler {
	return &Handler{service: svc, logger: logger, validator: validator}
}

// Register mounts the challenge routes on the router.
func (h *Handler) Register(r chi.Router) {
	challengeRouter := chi.NewRouter()
	challengeRouter.Use(request.RequestID)
	challengeRouter.Use(authmw.RequireAuth(h.validator, h.logger))
	challengeRouter.Post("/", h.handleCreate)
	challengeRouter.Get("/", h.handleList)
	challengeRouter.Get("/{challengeID}", h.handleGet)
	challengeRouter.Delete("/{challengeID}", h.handleDelete)
	challengeRouter.Post("/{challengeID}/winner/{winnerID}", h.handleSelectWinner)

	r.Mount("/challenges", challengeRouter)
}

type taskSpecRequest struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Notes string `json:"notes"`
}

type createRequest struct {
	Name     string            `json:"name"`
	GroupID  string            `json:"group_id"`
	Prize    float64           `json:"prize"`
	Official bool              `json:"official"`
	Tasks    []taskSpecRequest `json:"tasks"`
}

type challengeResponse struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	GroupID    string            `json:"group_id"`
	LeaderID   string            `json:"leader_id"`
	Prize      float64           `json:"prize"`
	PrizeCost  float64           `json:"prize_cost"`
	Official   bool              `json:"official"`
	Status     string            `json:"status"`
	TasksOrder models.TasksOrder `json:"tasks_order"`
}

func toChallengeResponse(c *models.Challenge) challengeResponse {
	return challengeResponse{
		ID:         c.ID.String(),
		Name:       c.Name,
		GroupID:    c.GroupID.String(),
		LeaderID:   c.LeaderID.String(),
		Prize:      c.Prize,
		PrizeCost:  c.PrizeCost(),
		Official:   c.Official,
		Status:     string(c.Status),
		TasksOrder: c.TasksOrder,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create challenge request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if !govalidator.StringLength(req.Name, "1", "255") {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "name must be between 1 and 255 characters"))
		return
	}
	if !govalidator.IsUUID(req.GroupID) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "group_id must be a UUID"))
		return
	}
	groupID, err := id.ParseGroupID(req.GroupID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	input := service.CreateInput{
		Name:     req.Name,
		GroupID:  groupID,
		Prize:    req.Prize,
		Official: req.Official,
	}
	for _, spec := range req.Tasks {
		input.Tasks = append(input.Tasks, models.TaskSpec{
			Type:  models.TaskType(spec.Type),
			Text:  spec.Text,
			Notes: spec.Notes,
		})
	}

	challenge, err := h.service.CreateChallenge(ctx, input)
	if err != nil {
		h.logError(ctx, "create challenge failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toChallengeResponse(challenge))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	challenges, err := h.service.ListChallenges(ctx)
	if err != nil {
		h.logError(ctx, "list challenges failed", request.GetRequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	out := make([]challengeResponse, 0, len(challenges))
	for _, challenge := range challenges {
		out = append(out, toChallengeResponse(challenge))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"challenges": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	challengeID, err := id.ParseChallengeID(chi.URLParam(r, "challengeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	challenge, tasks, err := h.service.GetChallenge(ctx, challengeID)
	if err != nil {
		h.logError(ctx, "get challenge failed", request.GetRequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"challenge": toChallengeResponse(challenge),
		"tasks":     tasks,
	})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	challengeID, err := id.ParseChallengeID(chi.URLParam(r, "challengeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.DeleteChallenge(ctx, challengeID); err != nil {
		h.logError(ctx, "delete challenge failed", request.GetRequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	// The teardown continues in the background; the caller sees the
	// challenge as removed from here on.
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSelectWinner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	challengeID, err := id.ParseChallengeID(chi.URLParam(r, "challengeID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	winnerID, err := id.ParseMemberID(chi.URLParam(r, "winnerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.SelectWinner(ctx, challengeID, winnerID); err != nil {
		h.logError(ctx, "select winner failed", request.GetRequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "winner selected",
	})
}

func (h *Handler) logError(ctx context.Context, msg, requestID string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err.Error())
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err.Error())
}
