package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/porticoapi/portico/internal/model"
)

// accessRuleRow is the flat form of model.AccessRule; filters are stored as
// a JSON array.
type accessRuleRow struct {
	ID          int64  `db:"id"`
	GroupID     int64  `db:"group_id"`
	Collection  string `db:"collection"`
	OpMask      int    `db:"op_mask"`
	FiltersJSON string `db:"filters_json"`
	FilterOp    string `db:"filter_op"`
}

func accessRuleRowFromModel(a model.AccessRule) (accessRuleRow, error) {
	filters := a.Filters
	if filters == nil {
		filters = []model.Filter{}
	}
	filtersJSON, err := json.Marshal(filters)
	if err != nil {
		return accessRuleRow{}, fmt.Errorf("marshal filters: %w", err)
	}
	op := a.FilterOp
	if op == "" {
		op = "AND"
	}
	collection := a.Collection
	if collection == "" {
		collection = model.AnyCollection
	}
	return accessRuleRow{
		ID:          a.ID,
		GroupID:     a.GroupID,
		Collection:  collection,
		OpMask:      int(a.OpMask),
		FiltersJSON: string(filtersJSON),
		FilterOp:    op,
	}, nil
}

func (r accessRuleRow) toModel() (model.AccessRule, error) {
	var filters []model.Filter
	if r.FiltersJSON != "" && r.FiltersJSON != "[]" {
		if err := json.Unmarshal([]byte(r.FiltersJSON), &filters); err != nil {
			return model.AccessRule{}, fmt.Errorf("unmarshal filters: %w", err)
		}
	}
	if filters == nil {
		filters = []model.Filter{}
	}
	return model.AccessRule{
		ID:         r.ID,
		GroupID:    r.GroupID,
		Collection: r.Collection,
		OpMask:     model.Operation(r.OpMask),
		Filters:    filters,
		FilterOp:   r.FilterOp,
	}, nil
}

// AddAccessRule inserts a rule. The ID is populated on success.
func (s *Store) AddAccessRule(ctx context.Context, rule *model.AccessRule) error {
	row, err := accessRuleRowFromModel(*rule)
	if err != nil {
		return err
	}
	const q = `INSERT INTO access_rules (group_id, collection, op_mask, filters_json, filter_op)
		VALUES (:group_id, :collection, :op_mask, :filters_json, :filter_op)`
	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert access rule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get access rule id: %w", err)
	}
	rule.ID = id
	rule.Collection = row.Collection
	rule.FilterOp = row.FilterOp
	return nil
}

// DeleteAccessRule removes a rule by id.
func (s *Store) DeleteAccessRule(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM access_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete access rule: %w", err)
	}
	return requireRows(result, "delete access rule")
}

// ListAccessRules returns every rule ordered by id.
func (s *Store) ListAccessRules(ctx context.Context) ([]model.AccessRule, error) {
	var rows []accessRuleRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM access_rules ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list access rules: %w", err)
	}
	return accessRulesFromRows(rows)
}

// RulesForGroups returns the rules bound to any of the given groups.
func (s *Store) RulesForGroups(ctx context.Context, groupIDs []int64) ([]model.AccessRule, error) {
	if len(groupIDs) == 0 {
		return []model.AccessRule{}, nil
	}
	q, args, err := sqlx.In("SELECT * FROM access_rules WHERE group_id IN (?) ORDER BY id", groupIDs)
	if err != nil {
		return nil, fmt.Errorf("build rules query: %w", err)
	}
	var rows []accessRuleRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("rules for groups: %w", err)
	}
	return accessRulesFromRows(rows)
}

func accessRulesFromRows(rows []accessRuleRow) ([]model.AccessRule, error) {
	rules := make([]model.AccessRule, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, err
		}
		rules = append(rules, a)
	}
	return rules, nil
}
