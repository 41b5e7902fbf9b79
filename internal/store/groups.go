package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/porticoapi/portico/internal/model"
)

// CreateGroup inserts a new group. The ID is populated on success.
func (s *Store) CreateGroup(ctx context.Context, g *model.Group) error {
	const q = `INSERT INTO groups (name, full_name, category, comment)
		VALUES (:name, :full_name, :category, :comment)`
	result, err := s.db.NamedExecContext(ctx, q, g)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert group %q: %w", g.Name, ErrDuplicate)
		}
		return fmt.Errorf("insert group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get group id: %w", err)
	}
	g.ID = id
	return nil
}

// GetGroupByName returns a group by its unique name.
func (s *Store) GetGroupByName(ctx context.Context, name string) (*model.Group, error) {
	var g model.Group
	if err := s.db.GetContext(ctx, &g, "SELECT * FROM groups WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get group by name: %w", err)
	}
	return &g, nil
}

// ListGroups returns every group ordered by category and name.
func (s *Store) ListGroups(ctx context.Context) ([]model.Group, error) {
	var groups []model.Group
	if err := s.db.SelectContext(ctx, &groups, "SELECT * FROM groups ORDER BY category, name"); err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// GroupsByNames returns the groups whose names are listed. Unknown names are
// skipped.
func (s *Store) GroupsByNames(ctx context.Context, names []string) ([]model.Group, error) {
	return s.selectGroupsIn(ctx, "name", names)
}

// GroupsByIDs returns the groups whose ids are listed. Unknown ids are skipped.
func (s *Store) GroupsByIDs(ctx context.Context, ids []int64) ([]model.Group, error) {
	return s.selectGroupsIn(ctx, "id", ids)
}

func (s *Store) selectGroupsIn(ctx context.Context, column string, values interface{}) ([]model.Group, error) {
	q, args, err := sqlx.In("SELECT * FROM groups WHERE "+column+" IN (?) ORDER BY id", values)
	if err != nil {
		// sqlx.In rejects empty slices.
		return []model.Group{}, nil
	}
	var groups []model.Group
	if err := s.db.SelectContext(ctx, &groups, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	return groups, nil
}

// IdentityGroups returns the groups an identity belongs to.
func (s *Store) IdentityGroups(ctx context.Context, identityID int64) ([]model.Group, error) {
	const q = `SELECT g.* FROM groups g
		JOIN identity_groups ig ON ig.group_id = g.id
		WHERE ig.identity_id = ? ORDER BY g.id`
	groups := []model.Group{}
	if err := s.db.SelectContext(ctx, &groups, q, identityID); err != nil {
		return nil, fmt.Errorf("identity groups: %w", err)
	}
	return groups, nil
}

// SetIdentityGroups replaces an identity's group memberships.
func (s *Store) SetIdentityGroups(ctx context.Context, identityID int64, groupIDs []int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return setIdentityGroups(ctx, tx, identityID, groupIDs)
	})
}

func setIdentityGroups(ctx context.Context, tx *sqlx.Tx, identityID int64, groupIDs []int64) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM identity_groups WHERE identity_id = ?", identityID); err != nil {
		return fmt.Errorf("clear identity groups: %w", err)
	}
	for _, gid := range groupIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO identity_groups (identity_id, group_id) VALUES (?, ?)",
			identityID, gid); err != nil {
			return fmt.Errorf("insert identity group: %w", err)
		}
	}
	return nil
}
