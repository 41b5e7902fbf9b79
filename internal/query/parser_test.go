package query

import (
	"reflect"
	"strings"
	"testing"

	"github.com/porticoapi/portico/internal/model"
)

func TestParseRuleFilters(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   []model.Filter
		wantOp string
	}{
		{"empty", "", nil, "AND"},
		{
			"identity placeholder",
			"owner_id = $identity",
			[]model.Filter{{Name: "owner_id", Operator: "=", Value: "$identity"}},
			"AND",
		},
		{
			"and with string and escaped quote",
			"state != 'won''t' AND active = true",
			[]model.Filter{
				{Name: "state", Operator: "!=", Value: "won't"},
				{Name: "active", Operator: "=", Value: "true"},
			},
			"AND",
		},
		{
			"or with in list",
			"team_id IN (3, 4) or public = 1",
			[]model.Filter{
				{Name: "team_id", Operator: "in", Value: "3,4"},
				{Name: "public", Operator: "=", Value: "1"},
			},
			"OR",
		},
		{
			"not in and like",
			"stage NOT IN ('lost') AND name ilike '%acme%'",
			[]model.Filter{
				{Name: "stage", Operator: "not in", Value: "lost"},
				{Name: "name", Operator: "ilike", Value: "%acme%"},
			},
			"AND",
		},
		{
			"negative and decimal numbers",
			"balance >= -10.5",
			[]model.Filter{{Name: "balance", Operator: ">=", Value: "-10.5"}},
			"AND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, op, err := ParseRuleFilters(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("filters = %+v, want %+v", got, tt.want)
			}
			if op != tt.wantOp {
				t.Errorf("op = %q, want %q", op, tt.wantOp)
			}
		})
	}
}

func TestParseRuleFiltersErrors(t *testing.T) {
	tests := []struct {
		input   string
		errPart string
	}{
		{"a = 1 AND b = 2 OR c = 3", "cannot mix"},
		{"owner_id = $user", "unknown placeholder"},
		{"name = 'open", "unterminated string"},
		{"name =", "expected value"},
		{"= 1", "expected field name"},
		{"name = 1 name = 2", "expected AND or OR"},
		{"id IN (1, 2", "unterminated list"},
		{"select = 1", "reserved word"},
		{"name ; 1", "unexpected character"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, _, err := ParseRuleFilters(tt.input)
			if err == nil {
				t.Fatalf("expected error for %q", tt.input)
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("error %q does not contain %q", err, tt.errPart)
			}
		})
	}
}
