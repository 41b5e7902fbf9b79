package service

import (
	"context"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/query"
	"github.com/porticoapi/portico/internal/recordstore"
)

// defaultReadFields is the field mask of a read that names no fields.
var defaultReadFields = []string{"id", "name", "display_name"}

// reservedParams are request parameters that control a search rather than
// filter it.
var reservedParams = map[string]bool{
	"limit": true, "offset": true, "fields": true,
	"order": true, "include_inactive": true, "ids": true,
}

// IsControlParam reports whether name controls a search instead of
// filtering on a field.
func IsControlParam(name string) bool { return reservedParams[name] }

// Identity fields by write tier.
var (
	selfEditableFields = map[string]bool{
		"name": true, "email": true, "phone": true, "mobile": true,
		"signature": true, "lang": true, "tz": true,
	}
	adminOnlyFields = map[string]bool{
		"login": true, "active": true, "groups_id": true,
		"company_id": true, "company_ids": true,
		"group_names": true, "group_ids": true,
	}
)

// AccessEvaluator decides whether an actor may operate on a collection and
// computes the field mask and filters of generic reads.
type AccessEvaluator struct {
	records recordstore.Store

	// InferInactiveFromFilters makes any custom filter suppress the implicit
	// active-only filter. When false only include_inactive=true does.
	InferInactiveFromFilters bool
}

// NewAccessEvaluator creates an AccessEvaluator.
func NewAccessEvaluator(records recordstore.Store, inferInactive bool) *AccessEvaluator {
	return &AccessEvaluator{records: records, InferInactiveFromFilters: inferInactive}
}

// Allowed reports whether actor may perform op on collection. Any failure,
// including an unknown collection, is a denial.
func (e *AccessEvaluator) Allowed(ctx context.Context, actor recordstore.Actor, collection string, op model.Operation) bool {
	return e.records.CheckAccess(ctx, actor, collection, op) == nil
}

// FieldMask resolves the fields parameter of a read. With no fields it
// returns the default fields the collection has. Otherwise id is always
// included and unknown names are dropped; if none of the requested names
// exist the request is invalid.
func (e *AccessEvaluator) FieldMask(fields *model.FieldSet, requested string) ([]string, error) {
	names := query.SplitList(requested)
	if len(names) == 0 {
		var mask []string
		for _, f := range defaultReadFields {
			if fields.Has(f) {
				mask = append(mask, f)
			}
		}
		return mask, nil
	}

	var valid []string
	for _, n := range names {
		if fields.Has(n) {
			valid = append(valid, n)
		}
	}
	if len(valid) == 0 {
		return nil, newError(KindValidation, CodeInvalidFields, "none of the requested fields exist: "+strings.Join(names, ", "))
	}
	if !slices.Contains(valid, "id") {
		valid = append([]string{"id"}, valid...)
	}
	return valid, nil
}

// Filters turns every non-reserved parameter naming an existing field into
// an equality condition. When the collection has an active field, active
// records only are returned unless include_inactive=true is given or, with
// InferInactiveFromFilters, any custom filter is present.
func (e *AccessEvaluator) Filters(fields *model.FieldSet, params url.Values) (query.Clause, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var where query.Clause
	for _, k := range keys {
		if reservedParams[k] {
			continue
		}
		f, ok := fields.Get(k)
		if !ok {
			continue
		}
		v, err := recordstore.Coerce(f, params.Get(k))
		if err != nil {
			return query.Clause{}, newError(KindValidation, CodeInvalidValue, err.Error())
		}
		where.Conditions = append(where.Conditions, query.Eq(f.Name, v))
	}

	includeInactive := false
	if raw := params.Get("include_inactive"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return query.Clause{}, newError(KindValidation, CodeInvalidValue, "include_inactive must be true or false")
		}
		includeInactive = b
	}
	custom := len(where.Conditions) > 0 && e.InferInactiveFromFilters
	if fields.Has("active") && !includeInactive && !custom {
		where.Conditions = append(where.Conditions, query.Eq("active", true))
	}
	return where, nil
}

// CheckIdentityWrite applies the three-tier write policy for identities.
// Self-editable fields may be changed by the identity itself or by a user
// manager; admin-only fields only by a user manager. Passwords have their
// own operation and any other field is rejected.
func (e *AccessEvaluator) CheckIdentityWrite(actor *model.Identity, targetID int64, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return newError(KindValidation, CodeNoData, "no data provided")
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	manager := actor.CanManageUsers()
	for _, k := range keys {
		switch {
		case k == "password":
			return newError(KindValidation, CodePasswordNotAllowed, "use the password endpoint to change passwords")
		case adminOnlyFields[k]:
			if !manager {
				return newError(KindAccessDenied, CodeAdminFieldDenied, "field '"+k+"' requires admin rights")
			}
		case selfEditableFields[k]:
			if actor.ID != targetID && !manager {
				return newError(KindAccessDenied, CodeAccessDenied, "can only update own profile or need admin rights")
			}
		default:
			return newError(KindValidation, CodeUnknownField, "field '"+k+"' cannot be updated")
		}
	}
	return nil
}
