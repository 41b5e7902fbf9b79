package recordstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/query"
)

// CheckAccess returns nil when the actor may perform op on the collection
// and an error wrapping ErrAccess when no rule grants it.
func (s *SQLStore) CheckAccess(ctx context.Context, actor Actor, name string, op model.Operation) error {
	if _, err := s.collection(name); err != nil {
		return err
	}
	if actor.unrestricted() {
		return nil
	}
	rules, err := s.matchingRules(ctx, actor, name, op)
	if err != nil {
		return err
	}
	if len(rules) == 0 {
		return fmt.Errorf("%s on %s: %w", op, name, ErrAccess)
	}
	return nil
}

func (s *SQLStore) matchingRules(ctx context.Context, actor Actor, name string, op model.Operation) ([]model.AccessRule, error) {
	all, err := s.rules.RulesForGroups(ctx, actor.GroupIDs)
	if err != nil {
		return nil, fmt.Errorf("load access rules: %w", err)
	}
	var out []model.AccessRule
	for _, r := range all {
		if r.Allows(name, op) {
			out = append(out, r)
		}
	}
	return out, nil
}

// rowClause returns the row restriction for op. A row is visible when any
// matching rule is unfiltered or its filters hold.
func (s *SQLStore) rowClause(ctx context.Context, actor Actor, c *collection, op model.Operation) (query.Clause, error) {
	if actor.unrestricted() {
		return query.Clause{}, nil
	}
	rules, err := s.matchingRules(ctx, actor, c.name, op)
	if err != nil {
		return query.Clause{}, err
	}
	if len(rules) == 0 {
		return query.Clause{}, fmt.Errorf("%s on %s: %w", op, c.name, ErrAccess)
	}

	visible := query.Clause{Or: true}
	for _, r := range rules {
		if len(r.Filters) == 0 {
			return query.Clause{}, nil
		}
		group := query.Clause{Or: strings.EqualFold(r.FilterOp, "OR")}
		for _, f := range r.Filters {
			cond, err := ruleCondition(c.fields, f, actor)
			if err != nil {
				return query.Clause{}, fmt.Errorf("access rule %d: %w", r.ID, err)
			}
			group.Conditions = append(group.Conditions, cond)
		}
		visible.Groups = append(visible.Groups, group)
	}
	return visible, nil
}

func ruleCondition(fields *model.FieldSet, f model.Filter, actor Actor) (query.Condition, error) {
	field, ok := fields.Get(f.Name)
	if !ok {
		return query.Condition{}, fmt.Errorf("%w: %s", ErrUnknownField, f.Name)
	}
	op := strings.ToLower(f.Operator)

	resolve := func(raw string) (interface{}, error) {
		if raw == model.IdentityPlaceholder {
			return actor.IdentityID, nil
		}
		if raw == "null" {
			return nil, nil
		}
		return Coerce(field, raw)
	}

	if op == "in" || op == "not in" {
		var values []interface{}
		for _, part := range strings.Split(f.Value, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			v, err := resolve(part)
			if err != nil {
				return query.Condition{}, err
			}
			values = append(values, v)
		}
		return query.Condition{Field: field.Name, Operator: op, Value: values}, nil
	}

	v, err := resolve(f.Value)
	if err != nil {
		return query.Condition{}, err
	}
	return query.Condition{Field: field.Name, Operator: op, Value: v}, nil
}

// Coerce converts a textual value, such as a query parameter, to the Go
// type matching the field.
func Coerce(field model.Field, raw string) (interface{}, error) {
	switch field.Type {
	case connector.TypeInteger, connector.TypeMany2One:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects an integer, got %q", ErrInvalidValue, field.Name, raw)
		}
		return n, nil
	case connector.TypeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects a number, got %q", ErrInvalidValue, field.Name, raw)
		}
		return f, nil
	case connector.TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s expects true or false, got %q", ErrInvalidValue, field.Name, raw)
		}
		return b, nil
	}
	return raw, nil
}
