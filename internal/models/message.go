package models

import "time"

// Message represents a persisted direct or group message. Exactly one of
// RecipientID/GroupID is set on every row the service writes. The sender's
// current display metadata is joined in when the message is returned.
type Message struct {
	ID              int        `db:"id" json:"id"`
	SenderID        int        `db:"sender_id" json:"sender_id"`
	RecipientID     *int       `db:"recipient_id" json:"recipient_id"`
	GroupID         *int       `db:"group_id" json:"group_id"`
	Content         string     `db:"content" json:"content"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at"`
	SenderUsername  string     `db:"sender_username" json:"sender_username"`
	SenderAvatarURL *string    `db:"sender_avatar_url" json:"sender_avatar_url"`
}

// IsDirect reports whether the message belongs to a direct conversation.
func (m Message) IsDirect() bool {
	return m.RecipientID != nil
}

// IsGroup reports whether the message belongs to a group conversation.
func (m Message) IsGroup() bool {
	return m.GroupID != nil
}
