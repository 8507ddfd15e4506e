package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"realtime-service/internal/auth"
	"realtime-service/internal/observability"
	"realtime-service/internal/repositories"
)

const metricsKind = "session"

// SessionHandler owns the realtime connection lifecycle: handshake,
// auto-join of the personal room and group rooms, event handling, room
// fan-out, and disconnect cleanup.
type SessionHandler struct {
	hub         *Hub
	verifier    *auth.Verifier
	messages    repositories.MessageRepository
	memberships repositories.MembershipRepository
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(hub *Hub, verifier *auth.Verifier, messages repositories.MessageRepository, memberships repositories.MembershipRepository) *SessionHandler {
	return &SessionHandler{
		hub:         hub,
		verifier:    verifier,
		messages:    messages,
		memberships: memberships,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the presented credential, upgrades the connection,
// and subscribes it to the user's personal room and every group room the
// user belongs to. A connection that fails verification is rejected before
// the upgrade; no session state is created for it.
func (h *SessionHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	identity, err := h.verifier.Verify(bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.ID,
		Username:    identity.Username,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, h, identity, info)

	h.hub.Join(PersonalRoom(identity.ID), client)
	h.joinGroupRooms(ctx, client)

	observability.IncWSActive(metricsKind)
	observability.IncWSEvent(metricsKind, "ws_connect")
	h.publishLifecycle(ctx, info, "ws_connect", "")

	go client.writePump()
	go client.readPump()
}

// joinGroupRooms subscribes the connection to every group the user belongs
// to. A transient membership lookup failure leaves the connection active
// with only the personal room joined.
func (h *SessionHandler) joinGroupRooms(ctx context.Context, c *Client) {
	groupIDs, err := h.memberships.ListGroupIDsForUser(ctx, c.user.ID)
	if err != nil {
		log.Printf("ws: user %d: list groups on connect: %v", c.user.ID, err)
		return
	}
	for _, groupID := range groupIDs {
		h.hub.Join(GroupRoom(groupID), c)
	}
}

// dispatch routes one inbound frame. Every handler failure becomes an
// errorMessage to the originating connection; nothing here can take the
// connection down or leak to other connections.
func (h *SessionHandler) dispatch(c *Client, raw []byte) {
	var event ClientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		c.sendEvent(errorEvent("invalid event format"))
		return
	}

	ctx := context.Background()
	observability.IncWSEvent(metricsKind, event.Event)

	switch event.Event {
	case EventJoinDM:
		h.handleJoinDM(ctx, c, event.Data)
	case EventJoinGroup:
		h.handleJoinGroup(ctx, c, event.Data)
	case EventSendDM:
		h.handleSendDM(ctx, c, event.Data)
	case EventSendGroupMessage:
		h.handleSendGroupMessage(ctx, c, event.Data)
	case EventDeleteMessage:
		h.handleDeleteMessage(ctx, c, event.Data)
	default:
		c.sendEvent(errorEvent("unknown event"))
	}
}

func (h *SessionHandler) handleJoinDM(ctx context.Context, c *Client, data json.RawMessage) {
	var payload JoinDMPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.OtherUserID == 0 || payload.OtherUserID == c.user.ID {
		c.sendEvent(errorEvent("Invalid or same user ID"))
		return
	}

	exists, err := h.memberships.UserExists(ctx, payload.OtherUserID)
	if err != nil {
		log.Printf("ws: user %d joinDM: %v", c.user.ID, err)
		c.sendEvent(errorEvent("Failed to join DM room"))
		return
	}
	if !exists {
		c.sendEvent(errorEvent("Recipient does not exist"))
		return
	}

	h.hub.Join(DirectRoom(c.user.ID, payload.OtherUserID), c)
}

func (h *SessionHandler) handleJoinGroup(ctx context.Context, c *Client, data json.RawMessage) {
	var payload JoinGroupPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.GroupID == 0 {
		c.sendEvent(errorEvent("Group ID required"))
		return
	}

	member, err := h.memberships.IsGroupMember(ctx, payload.GroupID, c.user.ID)
	if err != nil {
		log.Printf("ws: user %d joinGroup: %v", c.user.ID, err)
		c.sendEvent(errorEvent("Failed to join group room"))
		return
	}
	if !member {
		c.sendEvent(errorEvent("Group does not exist or you are not a member"))
		return
	}

	h.hub.Join(GroupRoom(payload.GroupID), c)
}

func (h *SessionHandler) handleSendDM(ctx context.Context, c *Client, data json.RawMessage) {
	var payload SendDMPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.To == 0 || strings.TrimSpace(payload.Content) == "" || payload.To == c.user.ID {
		c.sendEvent(errorEvent("Recipient and content required, cannot send to self"))
		return
	}

	msg, err := h.messages.Save(ctx, c.user.ID, &payload.To, nil, payload.Content)
	if err != nil {
		log.Printf("ws: user %d sendDM: %v", c.user.ID, err)
		c.sendEvent(errorEvent(storeErrorText(err, "Failed to send DM")))
		return
	}

	h.hub.Broadcast(DirectRoom(c.user.ID, payload.To), ServerEvent{
		Event: EventDMMessage,
		Data:  MessageEvent{Message: msg, TempID: payload.TempID},
	})
}

func (h *SessionHandler) handleSendGroupMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var payload SendGroupMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.GroupID == 0 || strings.TrimSpace(payload.Content) == "" {
		c.sendEvent(errorEvent("Group ID and content required"))
		return
	}

	msg, err := h.messages.Save(ctx, c.user.ID, nil, &payload.GroupID, payload.Content)
	if err != nil {
		log.Printf("ws: user %d sendGroupMessage: %v", c.user.ID, err)
		c.sendEvent(errorEvent(storeErrorText(err, "Failed to send group message")))
		return
	}

	h.hub.Broadcast(GroupRoom(payload.GroupID), ServerEvent{
		Event: EventGroupMessage,
		Data:  MessageEvent{Message: msg, TempID: payload.TempID},
	})
}

func (h *SessionHandler) handleDeleteMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var payload DeleteMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.MessageID == 0 {
		c.sendEvent(errorEvent("Message ID required"))
		return
	}

	msg, err := h.messages.Delete(ctx, payload.MessageID, c.user.ID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		c.sendEvent(errorEvent("Message not found or you are not the sender"))
		return
	}
	if err != nil {
		log.Printf("ws: user %d deleteMessage: %v", c.user.ID, err)
		c.sendEvent(errorEvent("Failed to delete message"))
		return
	}

	roomID, ok := RoomForMessage(msg)
	if !ok {
		return
	}
	h.hub.Broadcast(roomID, ServerEvent{
		Event: EventMessageDeleted,
		Data:  DeletedEvent{MessageID: msg.ID},
	})
}

// dropClient discards the connection's entire subscription set. No
// persisted state changes on disconnect.
func (h *SessionHandler) dropClient(c *Client, reason string) {
	h.hub.RemoveClient(c)
	observability.DecWSActive(metricsKind)
	observability.IncWSEvent(metricsKind, "ws_disconnect")
	h.publishLifecycle(context.Background(), c.info, "ws_disconnect", reason)
}

func (h *SessionHandler) publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	payload := map[string]any{
		"ws": map[string]any{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]any{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.sessions", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

// storeErrorText maps a store failure to the text surfaced to the
// originator. Known conditions carry their own wording; anything else
// (a transient store failure included) gets the generic fallback.
func storeErrorText(err error, fallback string) string {
	switch {
	case errors.Is(err, repositories.ErrEmptyContent),
		errors.Is(err, repositories.ErrSelfMessage),
		errors.Is(err, repositories.ErrBadTarget),
		errors.Is(err, repositories.ErrRecipientNotFound),
		errors.Is(err, repositories.ErrNotGroupMember),
		errors.Is(err, repositories.ErrMessageNotFound):
		return err.Error()
	}
	return fallback
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
