package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/deskchat/deskchat-server/internal/core"
	"github.com/deskchat/deskchat-server/internal/store"
	"github.com/deskchat/deskchat-server/internal/utils"
)

// APIHandlers provides the read-side REST endpoints. They are pass-throughs
// to the store; the only write that touches the hub is help request
// creation, which fans a notification out to admin connections.
type APIHandlers struct {
	hub   *core.Hub
	store store.Store
	log   *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(hub *core.Hub, st store.Store, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{hub: hub, store: st, log: logger}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ListRoomMessages returns message history for one room.
// GET /api/rooms/:room/messages
func (h *APIHandlers) ListRoomMessages(c *gin.Context) {
	room := c.Param("room")

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	msgs, err := h.store.ListMessagesForRoom(c.Request.Context(), room, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("list room messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageToProto(msg))
	}
	c.JSON(http.StatusOK, out)
}

// ListConversations returns the admin's conversation overview, rebuilt from
// the persisted messages.
// GET /api/conversations
func (h *APIHandlers) ListConversations(c *gin.Context) {
	msgs, err := h.store.ListMessagesInvolving(c.Request.Context(), core.AdminUsername)
	if err != nil {
		h.log.Error().Err(err).Msg("list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, conversationsToProto(core.BuildConversations(msgs)))
}

// ListPresence returns all current presence records.
// GET /api/presence
func (h *APIHandlers) ListPresence(c *gin.Context) {
	records, err := h.store.ListPresence(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list presence")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, presenceToProto(records))
}

// CreateHelpRequestRequest represents the help request creation body.
type CreateHelpRequestRequest struct {
	Username string `json:"username" binding:"required"`
	Message  string `json:"message" binding:"required"`
}

// CreateHelpRequest creates a help request and notifies admin connections.
// POST /api/help-requests
func (h *APIHandlers) CreateHelpRequest(c *gin.Context) {
	var req CreateHelpRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid help request body")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	hr := &store.HelpRequest{
		ID:        utils.NewID(),
		Username:  req.Username,
		Room:      req.Username,
		Message:   req.Message,
		Status:    store.HelpRequestPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateHelpRequest(c.Request.Context(), hr); err != nil {
		h.log.Error().Err(err).Str("username", req.Username).Msg("create help request")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.hub.NotifyHelpRequest(hr)

	h.log.Info().Str("id", hr.ID).Str("username", hr.Username).Msg("help request created")
	c.JSON(http.StatusCreated, helpRequestToProto(hr))
}

// ListHelpRequests returns all help requests, newest first.
// GET /api/help-requests
func (h *APIHandlers) ListHelpRequests(c *gin.Context) {
	requests, err := h.store.ListHelpRequests(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list help requests")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]any, 0, len(requests))
	for _, hr := range requests {
		out = append(out, helpRequestToProto(hr))
	}
	c.JSON(http.StatusOK, out)
}

// UpdateHelpRequestRequest represents the status mutation body.
type UpdateHelpRequestRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateHelpRequest mutates the status of an existing help request.
// PATCH /api/help-requests/:id
func (h *APIHandlers) UpdateHelpRequest(c *gin.Context) {
	var req UpdateHelpRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	status := store.HelpRequestStatus(req.Status)
	switch status {
	case store.HelpRequestPending, store.HelpRequestInProgress, store.HelpRequestResolved:
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid status"})
		return
	}

	id := c.Param("id")
	if err := h.store.UpdateHelpRequestStatus(c.Request.Context(), id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "help request not found"})
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("update help request")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// UpsertUserRequest represents the user creation body.
type UpsertUserRequest struct {
	Username string `json:"username" binding:"required,min=1,max=64"`
	Role     string `json:"role" binding:"required,oneof=admin user"`
}

// UserResponse represents a stored user.
type UserResponse struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"createdAt"`
}

// UpsertUser creates the user on first sight. The stored role is pinned; a
// conflicting role claim is rejected.
// POST /api/users
func (h *APIHandlers) UpsertUser(c *gin.Context) {
	var req UpsertUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if existing, err := h.store.GetUserByUsername(ctx, req.Username); err == nil && existing.Role != req.Role {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "username is already registered with a different role"})
		return
	}

	user, err := h.store.UpsertUser(ctx, req.Username, req.Role)
	if err != nil {
		h.log.Error().Err(err).Str("username", req.Username).Msg("upsert user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Unix(),
	})
}

// GetUser retrieves a stored user record.
// GET /api/users/:username
func (h *APIHandlers) GetUser(c *gin.Context) {
	username := c.Param("username")
	user, err := h.store.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("username", username).Msg("get user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, UserResponse{
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.Unix(),
	})
}
