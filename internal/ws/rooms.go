package ws

import (
	"fmt"

	"realtime-service/internal/models"
)

// Room identifiers are derived from identities, never stored. The fixed
// prefixes keep the three namespaces disjoint.
const (
	personalRoomPrefix = "user_"
	directRoomPrefix   = "dm_"
	groupRoomPrefix    = "group_"
)

// PersonalRoom returns the room every connection of a user auto-joins.
func PersonalRoom(userID int) string {
	return fmt.Sprintf("%s%d", personalRoomPrefix, userID)
}

// DirectRoom returns the canonical room for a direct conversation between
// two users. The pair is sorted so both participants compute the identical
// id regardless of who initiates.
func DirectRoom(userA, userB int) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%s%d_%d", directRoomPrefix, userA, userB)
}

// GroupRoom returns the room for a group conversation.
func GroupRoom(groupID int) string {
	return fmt.Sprintf("%s%d", groupRoomPrefix, groupID)
}

// RoomForMessage derives the broadcast room of a persisted message from its
// target fields. A message with neither target is malformed and has no room.
func RoomForMessage(msg models.Message) (string, bool) {
	switch {
	case msg.RecipientID != nil:
		return DirectRoom(msg.SenderID, *msg.RecipientID), true
	case msg.GroupID != nil:
		return GroupRoom(*msg.GroupID), true
	}
	return "", false
}
