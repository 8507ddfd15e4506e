package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/repositories"
	"realtime-service/internal/telemetry"
	"realtime-service/internal/ws"
)

// MessageHandler serves the REST surface over the same message store and
// broadcast hub the realtime session uses.
type MessageHandler struct {
	messages    repositories.MessageRepository
	memberships repositories.MembershipRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages repositories.MessageRepository, memberships repositories.MembershipRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		messages:    messages,
		memberships: memberships,
		hub:         hub,
		audit:       audit,
	}
}

// ListThreads returns the caller's direct-message threads, latest first.
func (h *MessageHandler) ListThreads(c *gin.Context) {
	userID := c.GetInt("userID")

	threads, err := h.messages.ListThreads(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch DMs"})
		return
	}
	c.JSON(http.StatusOK, threads)
}

// GetConversation returns the full history between the caller and another user.
func (h *MessageHandler) GetConversation(c *gin.Context) {
	otherUserID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	userID := c.GetInt("userID")

	msgs, err := h.messages.ListConversation(c.Request.Context(), userID, otherUserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch DM conversation"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// StartThread reports whether a direct conversation with the recipient
// already has history. No row is written; threads materialize with the
// first message.
func (h *MessageHandler) StartThread(c *gin.Context) {
	var req struct {
		RecipientID int `json:"recipient_id"`
	}
	userID := c.GetInt("userID")
	if err := c.ShouldBindJSON(&req); err != nil || req.RecipientID == 0 || req.RecipientID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid recipient required, cannot be self"})
		return
	}

	exists, err := h.messages.HasThread(c.Request.Context(), userID, req.RecipientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start DM thread"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"threadStarted": true, "new": !exists})
}

// ListGroups returns every group conversation the caller belongs to, with
// the caller's membership role attached.
func (h *MessageHandler) ListGroups(c *gin.Context) {
	userID := c.GetInt("userID")

	groups, err := h.memberships.ListGroupsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch groups"})
		return
	}
	c.JSON(http.StatusOK, groups)
}

// GetGroupMessages returns a group's history, gated on membership.
func (h *MessageHandler) GetGroupMessages(c *gin.Context) {
	groupID, err := strconv.Atoi(c.Param("group_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group id"})
		return
	}
	userID := c.GetInt("userID")

	member, err := h.memberships.IsGroupMember(c.Request.Context(), groupID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this group"})
		return
	}

	msgs, err := h.messages.ListGroupMessages(c.Request.Context(), groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch group messages"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendDM persists a direct message and fans it out to the conversation room.
func (h *MessageHandler) SendDM(c *gin.Context) {
	var req struct {
		RecipientID int    `json:"recipient_id" binding:"required"`
		Content     string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messages.Save(c.Request.Context(), userID, &req.RecipientID, nil, req.Content)
	if err != nil {
		status, text := storeErrorResponse(err, "failed to send DM")
		c.JSON(status, gin.H{"error": text})
		return
	}

	h.hub.Broadcast(ws.DirectRoom(userID, req.RecipientID), ws.ServerEvent{
		Event: ws.EventDMMessage,
		Data:  ws.MessageEvent{Message: msg},
	})
	c.JSON(http.StatusOK, msg)
}

// SendGroupMessage persists a group message and fans it out to the group room.
func (h *MessageHandler) SendGroupMessage(c *gin.Context) {
	var req struct {
		GroupID int    `json:"group_id" binding:"required"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messages.Save(c.Request.Context(), userID, nil, &req.GroupID, req.Content)
	if err != nil {
		status, text := storeErrorResponse(err, "failed to send group message")
		c.JSON(status, gin.H{"error": text})
		return
	}

	h.hub.Broadcast(ws.GroupRoom(req.GroupID), ws.ServerEvent{
		Event: ws.EventGroupMessage,
		Data:  ws.MessageEvent{Message: msg},
	})
	c.JSON(http.StatusOK, msg)
}

// UpdateMessage rewrites a message the caller sent. The not-found response
// is identical whether the message is absent or owned by someone else.
func (h *MessageHandler) UpdateMessage(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messages.Update(c.Request.Context(), messageID, userID, req.Content)
	if err != nil {
		status, text := storeErrorResponse(err, "failed to update message")
		c.JSON(status, gin.H{"error": text})
		return
	}

	h.audit.Emit(c.Request.Context(), "message_updated", msg.ID, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage hard-deletes a message the caller sent and notifies the
// message's room.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messages.Delete(c.Request.Context(), messageID, userID)
	if err != nil {
		status, text := storeErrorResponse(err, "failed to delete message")
		c.JSON(status, gin.H{"error": text})
		return
	}

	if roomID, ok := ws.RoomForMessage(msg); ok {
		h.hub.Broadcast(roomID, ws.ServerEvent{
			Event: ws.EventMessageDeleted,
			Data:  ws.DeletedEvent{MessageID: msg.ID},
		})
	}

	h.audit.Emit(c.Request.Context(), "message_deleted", msg.ID, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusOK, gin.H{"success": true, "deletedMessage": msg})
}

// storeErrorResponse maps store failures to HTTP responses. Validation
// conditions surface their own wording; unexpected store failures get the
// generic fallback.
func storeErrorResponse(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, repositories.ErrEmptyContent),
		errors.Is(err, repositories.ErrSelfMessage),
		errors.Is(err, repositories.ErrBadTarget):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, repositories.ErrRecipientNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, repositories.ErrNotGroupMember):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, repositories.ErrMessageNotFound):
		return http.StatusNotFound, "message not found or you are not the sender"
	}
	return http.StatusInternalServerError, fallback
}
