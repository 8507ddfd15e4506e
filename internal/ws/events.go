package ws

import (
	"encoding/json"

	"realtime-service/internal/models"
)

// Client-emitted event names.
const (
	EventJoinDM           = "joinDM"
	EventJoinGroup        = "joinGroup"
	EventSendDM           = "sendDM"
	EventSendGroupMessage = "sendGroupMessage"
	EventDeleteMessage    = "deleteMessage"
)

// Server-emitted event names.
const (
	EventDMMessage      = "dmMessage"
	EventGroupMessage   = "groupMessage"
	EventMessageDeleted = "messageDeleted"
	EventError          = "errorMessage"
)

// ClientEvent is the envelope for every client frame. Data is decoded per
// event at the handler boundary; a shape mismatch is rejected before any
// store call.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope for every server frame.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type JoinDMPayload struct {
	OtherUserID int `json:"otherUserId"`
}

type JoinGroupPayload struct {
	GroupID int `json:"groupId"`
}

type SendDMPayload struct {
	To      int    `json:"to"`
	Content string `json:"content"`
	TempID  string `json:"tempId,omitempty"`
}

type SendGroupMessagePayload struct {
	GroupID int    `json:"groupId"`
	Content string `json:"content"`
	TempID  string `json:"tempId,omitempty"`
}

type DeleteMessagePayload struct {
	MessageID int `json:"messageId"`
}

// MessageEvent is a normalized message with the client correlation token
// echoed back so the sender's UI can reconcile an optimistic entry with the
// persisted record.
type MessageEvent struct {
	models.Message
	TempID string `json:"tempId,omitempty"`
}

// DeletedEvent names a message removed from its room.
type DeletedEvent struct {
	MessageID int `json:"messageId"`
}

// ErrorEvent is sent only to the connection whose event failed.
type ErrorEvent struct {
	Error string `json:"error"`
}

func errorEvent(text string) ServerEvent {
	return ServerEvent{Event: EventError, Data: ErrorEvent{Error: text}}
}
