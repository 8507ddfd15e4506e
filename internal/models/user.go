package models

// User carries the display metadata the messaging core reads from the user
// store. Account management lives in another service.
type User struct {
	ID        int     `db:"id" json:"id"`
	Username  string  `db:"username" json:"username"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url"`
}
