package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

var (
	ErrEmptyContent = errors.New("message content cannot be empty")
	ErrSelfMessage  = errors.New("cannot send message to self")
	ErrBadTarget    = errors.New("message requires exactly one of recipient or group")
	// ErrMessageNotFound covers both an absent message and a message owned
	// by someone else; callers must not distinguish the two.
	ErrMessageNotFound   = errors.New("message not found or not owned by sender")
	ErrRecipientNotFound = errors.New("recipient does not exist")
	ErrNotGroupMember    = errors.New("group does not exist or user is not a member")
)

const messageColumns = `m.id, m.sender_id, m.recipient_id, m.group_id, m.content, m.created_at, m.updated_at`

// MessageRepository persists and reads back messages, always normalized
// with the sender's current display metadata.
type MessageRepository interface {
	Save(ctx context.Context, senderID int, recipientID, groupID *int, content string) (models.Message, error)
	Update(ctx context.Context, messageID, userID int, content string) (models.Message, error)
	Delete(ctx context.Context, messageID, userID int) (models.Message, error)
	ListConversation(ctx context.Context, userID, otherUserID int) ([]models.Message, error)
	ListGroupMessages(ctx context.Context, groupID int) ([]models.Message, error)
	ListThreads(ctx context.Context, userID int) ([]models.DMThread, error)
	HasThread(ctx context.Context, userID, otherUserID int) (bool, error)
}

// MessageRepo is a sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Save validates and inserts a message. Validation happens before the
// insert; the insert is the sole mutating step, so a failed save leaves no
// partial record.
func (r *MessageRepo) Save(ctx context.Context, senderID int, recipientID, groupID *int, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	if (recipientID == nil) == (groupID == nil) {
		return models.Message{}, ErrBadTarget
	}
	if recipientID != nil && *recipientID == senderID {
		return models.Message{}, ErrSelfMessage
	}

	if recipientID != nil {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, *recipientID); err != nil {
			return models.Message{}, err
		}
		if !exists {
			return models.Message{}, ErrRecipientNotFound
		}
	}
	if groupID != nil {
		var member bool
		if err := r.db.GetContext(ctx, &member, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, *groupID, senderID); err != nil {
			return models.Message{}, err
		}
		if !member {
			return models.Message{}, ErrNotGroupMember
		}
	}

	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, recipient_id, group_id, content)
        VALUES ($1, $2, $3, $4)
        RETURNING id, sender_id, recipient_id, group_id, content, created_at, updated_at`,
		senderID, recipientID, groupID, content).StructScan(&msg)
	if err != nil {
		return models.Message{}, err
	}

	if err := r.attachSenderMeta(ctx, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Update rewrites the content of a message owned by userID and stamps
// updated_at. A zero-row update reports ErrMessageNotFound whether the
// message is absent or owned by someone else.
func (r *MessageRepo) Update(ctx context.Context, messageID, userID int, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}

	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE messages SET content=$1, updated_at=NOW()
        WHERE id=$2 AND sender_id=$3
        RETURNING id, sender_id, recipient_id, group_id, content, created_at, updated_at`,
		content, messageID, userID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	if err := r.attachSenderMeta(ctx, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Delete removes a message owned by userID and returns the deleted record
// so the caller can derive which room to notify. Hard delete, no tombstone.
func (r *MessageRepo) Delete(ctx context.Context, messageID, userID int) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `DELETE FROM messages
        WHERE id=$1 AND sender_id=$2
        RETURNING id, sender_id, recipient_id, group_id, content, created_at, updated_at`,
		messageID, userID).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	if err := r.attachSenderMeta(ctx, &msg); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListConversation returns the full direct-message history between two
// users in insertion order.
func (r *MessageRepo) ListConversation(ctx context.Context, userID, otherUserID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+`, u.username AS sender_username, u.avatar_url AS sender_avatar_url
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE ((m.sender_id=$1 AND m.recipient_id=$2) OR (m.sender_id=$2 AND m.recipient_id=$1))
          AND m.group_id IS NULL
        ORDER BY m.created_at ASC`, userID, otherUserID)
	return msgs, err
}

// ListGroupMessages returns a group's history in insertion order.
func (r *MessageRepo) ListGroupMessages(ctx context.Context, groupID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+`, u.username AS sender_username, u.avatar_url AS sender_avatar_url
        FROM messages m JOIN users u ON u.id = m.sender_id
        WHERE m.group_id=$1
        ORDER BY m.created_at ASC`, groupID)
	return msgs, err
}

// ListThreads returns one row per direct-message peer, carrying the latest
// exchanged message, most recent first.
func (r *MessageRepo) ListThreads(ctx context.Context, userID int) ([]models.DMThread, error) {
	var threads []models.DMThread
	err := r.db.SelectContext(ctx, &threads, `WITH ranked AS (
            SELECT CASE WHEN m.sender_id=$1 THEN m.recipient_id ELSE m.sender_id END AS other_user_id,
                   m.content, m.created_at,
                   ROW_NUMBER() OVER (
                       PARTITION BY CASE WHEN m.sender_id=$1 THEN m.recipient_id ELSE m.sender_id END
                       ORDER BY m.created_at DESC
                   ) AS rn
            FROM messages m
            WHERE (m.sender_id=$1 OR m.recipient_id=$1) AND m.group_id IS NULL
        )
        SELECT u.id AS other_user_id, u.username, u.avatar_url,
               r.content AS last_message, r.created_at AS last_message_at
        FROM ranked r JOIN users u ON u.id = r.other_user_id
        WHERE r.rn = 1
        ORDER BY r.created_at DESC`, userID)
	return threads, err
}

// HasThread reports whether any direct message has been exchanged between
// the two users.
func (r *MessageRepo) HasThread(ctx context.Context, userID, otherUserID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM messages
        WHERE ((sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1))
          AND group_id IS NULL)`, userID, otherUserID)
	return exists, err
}

func (r *MessageRepo) attachSenderMeta(ctx context.Context, msg *models.Message) error {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT id, username, avatar_url FROM users WHERE id=$1`, msg.SenderID)
	if errors.Is(err, sql.ErrNoRows) {
		msg.SenderUsername = "Unknown"
		return nil
	}
	if err != nil {
		return err
	}
	msg.SenderUsername = user.Username
	msg.SenderAvatarURL = user.AvatarURL
	return nil
}
