package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/conversia/backend/internal/db"
	"github.com/conversia/backend/internal/models"
	"github.com/conversia/backend/internal/presence"
	"github.com/conversia/backend/internal/routing"
)

type Handler struct {
	Store       *db.Store
	Ops         *routing.Operations
	Distributor *routing.Distributor
	Presence    *presence.Tracker
	Validator   *validator.Validate
	Logger      zerolog.Logger

	DistributionInterval time.Duration
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// @Summary List conversations
// @Produce json
// @Param status query string false "active|attending|closed"
// @Param queue_id query string false "queue filter"
// @Param assigned_to query string false "advisor filter"
// @Success 200 {array} models.Conversation
// @Router /api/conversations [get]
func (h *Handler) ConversationsList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	out, err := h.Store.ListConversations(c.Request.Context(),
		c.Query("status"), c.Query("queue_id"), c.Query("assigned_to"), limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list conversations", err.Error())
		return
	}
	if out == nil {
		out = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (h *Handler) ConversationDetails(c *gin.Context) {
	id := c.Param("id")
	conv, err := h.Store.GetConversation(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load conversation", err.Error())
		return
	}
	events, err := h.Store.RecentSystemEvents(c.Request.Context(), id, 20)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load events", err.Error())
		return
	}
	if events == nil {
		events = []models.SystemEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "events": events})
}

func (h *Handler) QueuesList(c *gin.Context) {
	out, err := h.Store.ListQueues(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list queues", err.Error())
		return
	}
	if out == nil {
		out = []models.Queue{}
	}
	c.JSON(http.StatusOK, gin.H{"queues": out})
}

func (h *Handler) QueueDetails(c *gin.Context) {
	q, err := h.Store.GetQueue(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Queue not found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load queue", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": q})
}

type InboundRequest struct {
	ContactAddress string `json:"contact_address" validate:"required"`
	Channel        string `json:"channel" validate:"required"`
	ConnectionID   string `json:"connection_id" validate:"required"`
}

// Inbound registers a customer contact: it returns the open conversation for
// the (address, channel, connection) triple, creating one on first contact,
// and bumps last_message_at either way.
func (h *Handler) Inbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx := c.Request.Context()
	conv, err := h.Store.FindOpenConversation(ctx, req.ContactAddress, req.Channel, req.ConnectionID)
	created := false
	if errors.Is(err, db.ErrNotFound) {
		conv = models.Conversation{
			ID:             uuid.NewString(),
			ContactAddress: req.ContactAddress,
			Channel:        req.Channel,
			ConnectionID:   req.ConnectionID,
			Status:         models.StatusActive,
		}
		if err := h.Store.CreateConversation(ctx, conv); err != nil {
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to create conversation", err.Error())
			return
		}
		created = true
	} else if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to look up conversation", err.Error())
		return
	}

	if err := h.Store.TouchLastMessage(ctx, conv.ID); err != nil {
		h.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("last message touch failed")
	}
	conv, err = h.Store.GetConversation(ctx, conv.ID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load conversation", err.Error())
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv})
}

type BotClaimRequest struct {
	FlowID string `json:"flow_id" validate:"required"`
}

// BotClaim is the bot engine's admission check plus claim in one call. The
// rule is evaluated on a fresh snapshot and the claim itself is conditional,
// so an allowed=true answer can still end in claimed=false when a human wins
// the race in between.
func (h *Handler) BotClaim(c *gin.Context) {
	id := c.Param("id")
	var req BotClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	ctx := c.Request.Context()
	conv, err := h.Store.GetConversation(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load conversation", err.Error())
		return
	}
	session, err := h.Store.GetBotSession(ctx, id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load bot session", err.Error())
		return
	}

	if !routing.CanBotTakeControl(conv, session) {
		c.JSON(http.StatusOK, gin.H{"allowed": false, "claimed": false})
		return
	}
	if conv.BotOwned() {
		// Bot already holds it, nothing to claim.
		c.JSON(http.StatusOK, gin.H{"allowed": true, "claimed": true})
		return
	}
	claimed, err := h.Ops.ClaimForBot(ctx, id, req.FlowID)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Claim failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true, "claimed": claimed})
}

type BotSessionRequest struct {
	FlowID        string `json:"flow_id" validate:"required"`
	AwaitingInput bool   `json:"awaiting_input"`
	TimeoutAction string `json:"timeout_action" validate:"omitempty,oneof=queue advisor none"`
	TimeoutTarget string `json:"timeout_target"`
}

// BotSessionUpdate records the bot engine's dialogue state for a conversation.
// When the bot is awaiting input the prompt timestamp restarts, which is what
// the stall sweep measures against.
func (h *Handler) BotSessionUpdate(c *gin.Context) {
	var req BotSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	bs := models.BotSession{
		ConversationID: c.Param("id"),
		FlowID:         req.FlowID,
		AwaitingInput:  req.AwaitingInput,
		TimeoutAction:  req.TimeoutAction,
		TimeoutTarget:  req.TimeoutTarget,
	}
	if bs.TimeoutAction == "" {
		bs.TimeoutAction = models.TimeoutActionNone
	}
	if req.AwaitingInput {
		now := time.Now().UTC()
		bs.LastPromptAt = &now
	}
	if err := h.Store.UpsertBotSession(c.Request.Context(), bs); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to save bot session", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BotSessionClear removes the dialogue state, typically when a flow finishes.
func (h *Handler) BotSessionClear(c *gin.Context) {
	if err := h.Store.ClearBotSession(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to clear bot session", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type AdvisorActionRequest struct {
	AdvisorID string `json:"advisor_id" validate:"required"`
}

func (h *Handler) Assign(c *gin.Context) {
	req, ok := h.bindAdvisorAction(c)
	if !ok {
		return
	}
	applied, err := h.Ops.Assign(c.Request.Context(), c.Param("id"), req.AdvisorID, req.AdvisorID)
	h.writeTransition(c, applied, err)
}

func (h *Handler) Accept(c *gin.Context) {
	req, ok := h.bindAdvisorAction(c)
	if !ok {
		return
	}
	applied, err := h.Ops.Accept(c.Request.Context(), c.Param("id"), req.AdvisorID)
	h.writeTransition(c, applied, err)
}

func (h *Handler) Release(c *gin.Context) {
	req, ok := h.bindAdvisorAction(c)
	if !ok {
		return
	}
	applied, err := h.Ops.Release(c.Request.Context(), c.Param("id"), req.AdvisorID)
	h.writeTransition(c, applied, err)
}

func (h *Handler) Reject(c *gin.Context) {
	req, ok := h.bindAdvisorAction(c)
	if !ok {
		return
	}
	applied, err := h.Ops.Reject(c.Request.Context(), c.Param("id"), req.AdvisorID)
	h.writeTransition(c, applied, err)
}

type TransferRequest struct {
	AdvisorID string `json:"advisor_id" validate:"required"`
	QueueID   string `json:"queue_id"`
	TargetID  string `json:"target_id"`
}

// Transfer moves a conversation to a queue or straight to another advisor,
// depending on which target the body names.
func (h *Handler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}

	id := c.Param("id")
	var applied bool
	var err error
	switch {
	case req.QueueID != "":
		applied, err = h.Ops.TransferToQueue(c.Request.Context(), id, req.QueueID, req.AdvisorID)
	case req.TargetID != "":
		applied, err = h.Ops.TransferToAdvisor(c.Request.Context(), id, req.TargetID, req.AdvisorID)
	default:
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "queue_id or target_id is required", nil)
		return
	}
	h.writeTransition(c, applied, err)
}

func (h *Handler) Takeover(c *gin.Context) {
	req, ok := h.bindAdvisorAction(c)
	if !ok {
		return
	}
	applied, err := h.Ops.Takeover(c.Request.Context(), c.Param("id"), req.AdvisorID)
	h.writeTransition(c, applied, err)
}

type ArchiveRequest struct {
	AdvisorID string `json:"advisor_id" validate:"required"`
	Reason    string `json:"reason"`
}

func (h *Handler) Archive(c *gin.Context) {
	var req ArchiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return
	}
	applied, err := h.Ops.Archive(c.Request.Context(), c.Param("id"), req.Reason, req.AdvisorID)
	h.writeTransition(c, applied, err)
}

type ReopenRequest struct {
	AdvisorID string `json:"advisor_id"`
}

// Reopen restores a closed conversation. With an advisor id it goes straight
// to attending under that advisor; without one it returns to active unowned.
func (h *Handler) Reopen(c *gin.Context) {
	var req ReopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}

	var by *string
	actor := routing.ActorSystem
	if req.AdvisorID != "" {
		by = &req.AdvisorID
		actor = req.AdvisorID
	}
	applied, err := h.Ops.Reopen(c.Request.Context(), c.Param("id"), by, actor)
	h.writeTransition(c, applied, err)
}

type PresenceRequest struct {
	Online bool   `json:"online"`
	Action string `json:"action"`
}

func (h *Handler) PresenceUpdate(c *gin.Context) {
	var req PresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return
	}

	ctx := c.Request.Context()
	advisorID := c.Param("id")
	if err := h.Presence.SetOnline(ctx, advisorID, req.Online); err != nil {
		writeError(c, http.StatusInternalServerError, "PRESENCE_ERROR", "Failed to update presence", err.Error())
		return
	}
	if err := h.Presence.SetAction(ctx, advisorID, req.Action); err != nil {
		writeError(c, http.StatusInternalServerError, "PRESENCE_ERROR", "Failed to update presence", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type DistributorStartRequest struct {
	IntervalMs int `json:"interval_ms"`
}

func (h *Handler) DistributorStart(c *gin.Context) {
	var req DistributorStartRequest
	_ = c.ShouldBindJSON(&req)

	interval := h.DistributionInterval
	if req.IntervalMs > 0 {
		interval = time.Duration(req.IntervalMs) * time.Millisecond
	}
	h.Distributor.Start(interval)
	c.JSON(http.StatusOK, h.Distributor.Status())
}

func (h *Handler) DistributorStop(c *gin.Context) {
	h.Distributor.Stop()
	c.JSON(http.StatusOK, h.Distributor.Status())
}

func (h *Handler) DistributorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Distributor.Status())
}

func (h *Handler) bindAdvisorAction(c *gin.Context) (AdvisorActionRequest, bool) {
	var req AdvisorActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return req, false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return req, false
	}
	return req, true
}

// writeTransition maps transition outcomes onto responses: a lost race is an
// explicit 409 so clients refresh their view instead of retrying blindly.
func (h *Handler) writeTransition(c *gin.Context, applied bool, err error) {
	switch {
	case errors.Is(err, routing.ErrNoTarget):
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, routing.ErrSelfTakeover):
		writeError(c, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, db.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Conversation not found", nil)
	case err != nil:
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Transition failed", err.Error())
	case !applied:
		writeError(c, http.StatusConflict, "LOST_RACE", "Conversation already handled by someone else", nil)
	default:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
