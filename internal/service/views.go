package service

import "github.com/porticoapi/portico/internal/model"

// Identity views return maps so that each visibility tier carries exactly
// the fields it is allowed to see.

func groupRefs(groups []model.Group, full bool) []map[string]interface{} {
	refs := make([]map[string]interface{}, len(groups))
	for i, g := range groups {
		ref := map[string]interface{}{"id": g.ID, "name": g.Name}
		if full {
			ref["full_name"] = g.FullName
		}
		refs[i] = ref
	}
	return refs
}

// userView is the single-identity view. Every viewer sees the basic fields;
// the identity itself and user managers see contact and locale fields;
// user managers also see membership, login and key metadata.
func userView(ident *model.Identity, own, manager bool, key *model.APIKey) map[string]interface{} {
	v := map[string]interface{}{
		"id":          ident.ID,
		"name":        ident.Name,
		"email":       ident.Email,
		"active":      ident.Active,
		"create_date": ident.CreatedAt,
	}
	if own || manager {
		v["login"] = ident.Login
		v["phone"] = ident.Phone
		v["mobile"] = ident.Mobile
		v["lang"] = ident.Lang
		v["tz"] = ident.TZ
		v["signature"] = ident.Signature
		v["company_id"] = ident.CompanyID
	}
	if manager {
		v["groups"] = groupRefs(ident.Groups, true)
		v["company_ids"] = ident.CompanyIDs
		v["login_date"] = ident.LoginDate
		if key != nil {
			v["api_key"] = map[string]interface{}{
				"prefix":     key.KeyPrefix,
				"label":      key.Label,
				"created_at": key.CreatedAt,
				"expires_at": key.ExpiresAt,
				"last_used":  key.LastUsed,
			}
		}
	}
	return v
}

func listView(ident *model.Identity, manager bool) map[string]interface{} {
	v := map[string]interface{}{
		"id":          ident.ID,
		"name":        ident.Name,
		"login":       ident.Login,
		"email":       ident.Email,
		"active":      ident.Active,
		"create_date": ident.CreatedAt,
	}
	if manager {
		v["groups"] = ident.GroupNames()
		v["company_id"] = ident.CompanyID
		v["login_date"] = ident.LoginDate
	}
	return v
}

// IdentitySummary is the view returned after creating or updating an
// identity.
func IdentitySummary(ident *model.Identity) map[string]interface{} {
	return map[string]interface{}{
		"id":          ident.ID,
		"name":        ident.Name,
		"login":       ident.Login,
		"email":       ident.Email,
		"active":      ident.Active,
		"groups":      groupRefs(ident.Groups, false),
		"create_date": ident.CreatedAt,
	}
}

// Profile is the caller's own profile as returned by /auth/me.
func Profile(p *Principal) map[string]interface{} {
	ident := p.Identity
	return map[string]interface{}{
		"id":          ident.ID,
		"name":        ident.Name,
		"login":       ident.Login,
		"email":       ident.Email,
		"active":      ident.Active,
		"lang":        ident.Lang,
		"tz":          ident.TZ,
		"company_id":  ident.CompanyID,
		"login_date":  ident.LoginDate,
		"groups":      groupRefs(ident.Groups, false),
		"auth_scheme": p.Scheme,
		"permissions": map[string]bool{
			"is_admin":         ident.IsAdmin(),
			"is_user":          ident.IsUser(),
			"can_manage_users": ident.CanManageUsers(),
		},
	}
}
