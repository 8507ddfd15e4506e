package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

// MembershipRepository answers existence and group-membership questions
// against the persistent store. The group-management service owns the
// underlying rows; this side only reads them.
type MembershipRepository interface {
	UserExists(ctx context.Context, userID int) (bool, error)
	IsGroupMember(ctx context.Context, groupID, userID int) (bool, error)
	ListGroupIDsForUser(ctx context.Context, userID int) ([]int, error)
	ListGroupsForUser(ctx context.Context, userID int) ([]models.Group, error)
}

// MembershipRepo is a sqlx implementation of MembershipRepository.
type MembershipRepo struct {
	db *sqlx.DB
}

// NewMembershipRepo constructs a MembershipRepo.
func NewMembershipRepo(db *sqlx.DB) *MembershipRepo {
	return &MembershipRepo{db: db}
}

// UserExists checks whether a user id is present in the user store.
func (r *MembershipRepo) UserExists(ctx context.Context, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, userID)
	return exists, err
}

// IsGroupMember checks whether the user belongs to the group.
func (r *MembershipRepo) IsGroupMember(ctx context.Context, groupID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id=$1 AND user_id=$2)`, groupID, userID)
	return exists, err
}

// ListGroupIDsForUser returns the ids of every group containing the user.
// Used at connection time to auto-join group rooms.
func (r *MembershipRepo) ListGroupIDsForUser(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT group_id FROM group_members WHERE user_id=$1`, userID)
	return ids, err
}

// ListGroupsForUser returns the user's groups with their membership role.
func (r *MembershipRepo) ListGroupsForUser(ctx context.Context, userID int) ([]models.Group, error) {
	var groups []models.Group
	err := r.db.SelectContext(ctx, &groups, `SELECT g.id, g.name, g.avatar_url, gm.role
        FROM groups g JOIN group_members gm ON gm.group_id = g.id
        WHERE gm.user_id=$1`, userID)
	return groups, err
}
