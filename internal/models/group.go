package models

import "time"

// Group is a group conversation the user belongs to, with the membership
// role attached.
type Group struct {
	ID        int     `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
	Role      string  `db:"role" json:"role"`
}

// DMThread summarizes a direct conversation with another user, keyed by the
// latest exchanged message.
type DMThread struct {
	OtherUserID   int       `db:"other_user_id" json:"otherUserId"`
	Username      string    `db:"username" json:"username"`
	AvatarURL     *string   `db:"avatar_url" json:"avatar_url"`
	LastMessage   string    `db:"last_message" json:"lastMessage"`
	LastMessageAt time.Time `db:"last_message_at" json:"lastMessageAt"`
}
