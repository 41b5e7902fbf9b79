package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/store"
)

// SecretsNote accompanies every secret returned to a client.
const SecretsNote = "Store these credentials securely - they won't be shown again"

// GeneratedSecrets are credentials created on behalf of an identity. They
// are returned once and cannot be retrieved later.
type GeneratedSecrets struct {
	TemporaryPassword string `json:"temporary_password,omitempty"`
	APIKey            string `json:"api_key,omitempty"`
	Note              string `json:"note"`
}

// IdentityService implements user management on top of the system store.
type IdentityService struct {
	store    *store.Store
	creds    *CredentialStore
	sessions *SessionManager
	access   *AccessEvaluator
	logger   *slog.Logger
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(st *store.Store, creds *CredentialStore, sessions *SessionManager, access *AccessEvaluator, logger *slog.Logger) *IdentityService {
	return &IdentityService{store: st, creds: creds, sessions: sessions, access: access, logger: logger}
}

var (
	errUserNotFound     = newError(KindNotFound, CodeUserNotFound, "user not found")
	errNeedUserManager  = newError(KindAccessDenied, CodeAccessDenied, "access denied: user management required")
	errOwnOrUserManager = newError(KindAccessDenied, CodeAccessDenied, "access denied: own account or user management required")
)

func (s *IdentityService) target(ctx context.Context, id int64) (*model.Identity, error) {
	ident, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errUserNotFound
		}
		return nil, internal("get identity", err)
	}
	return ident, nil
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

// Create runs the identity creation workflow: fields are validated, groups
// resolved by name or id (default: the basic user group), and a temporary
// password and API key are generated unless the caller opts out with
// auto_generate_credentials, generate_password or generate_api_key.
func (s *IdentityService) Create(ctx context.Context, p *Principal, body map[string]interface{}) (*model.Identity, *GeneratedSecrets, error) {
	if !p.Identity.CanManageUsers() {
		return nil, nil, errNeedUserManager
	}
	if len(body) == 0 {
		return nil, nil, newError(KindValidation, CodeNoData, "no data provided")
	}

	ident := &model.Identity{Active: true, CompanyIDs: []int64{}}
	var (
		password            string
		autoGenerate        = true
		genPassword, genKey *bool
		groupNames          []string
		groupIDs            []int64
		err                 error
	)
	for _, k := range sortedKeys(body) {
		v := body[k]
		switch k {
		case "login":
			ident.Login, err = asString(k, v)
		case "name":
			ident.Name, err = asString(k, v)
		case "email":
			ident.Email, err = asString(k, v)
		case "phone":
			ident.Phone, err = asString(k, v)
		case "mobile":
			ident.Mobile, err = asString(k, v)
		case "signature":
			ident.Signature, err = asString(k, v)
		case "lang":
			ident.Lang, err = asString(k, v)
		case "tz":
			ident.TZ, err = asString(k, v)
		case "active":
			ident.Active, err = asBool(k, v)
		case "company_id":
			ident.CompanyID, err = optionalInt64(k, v)
		case "company_ids":
			ident.CompanyIDs, err = asInt64List(k, v)
		case "password":
			password, err = asString(k, v)
		case "auto_generate_credentials":
			autoGenerate, err = asBool(k, v)
		case "generate_password":
			genPassword, err = boolPtr(k, v)
		case "generate_api_key":
			genKey, err = boolPtr(k, v)
		case "group_names":
			groupNames, err = asStringList(k, v)
		case "group_ids", "groups_id":
			groupIDs, err = asInt64List(k, v)
		default:
			err = newError(KindValidation, CodeUnknownField, "unknown field '"+k+"'")
		}
		if err != nil {
			return nil, nil, err
		}
	}

	var missing []string
	if strings.TrimSpace(ident.Login) == "" {
		missing = append(missing, "login")
	}
	if strings.TrimSpace(ident.Name) == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return nil, nil, newError(KindValidation, CodeMissingRequired, "missing required fields: "+strings.Join(missing, ", "))
	}

	groups, err := s.resolveGroups(ctx, groupNames, groupIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(groups) == 0 {
		g, err := s.store.GetGroupByName(ctx, model.DefaultGroup)
		if err != nil {
			return nil, nil, internal("get default group", err)
		}
		groups = []model.Group{*g}
	}

	secrets := &GeneratedSecrets{Note: SecretsNote}
	if password == "" && valueOr(genPassword, autoGenerate) {
		if password, err = NewTempPassword(); err != nil {
			return nil, nil, internal("generate password", err)
		}
		secrets.TemporaryPassword = password
	}
	if password != "" {
		if ident.PasswordHash, err = store.HashPassword(password); err != nil {
			return nil, nil, internal("hash password", err)
		}
	}

	ids := make([]int64, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	if err := s.store.CreateIdentity(ctx, ident, ids); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, nil, newError(KindConflict, CodeConflict, "login '"+ident.Login+"' already exists")
		}
		return nil, nil, internal("create identity", err)
	}
	s.logger.Info("identity created", "identity_id", ident.ID, "by", p.Identity.ID, "groups", len(ids))

	if valueOr(genKey, autoGenerate) {
		issued, err := s.creds.Issue(ctx, ident.ID, "Auto-generated API Key")
		if err != nil {
			// The identity exists; report it without a key rather than fail.
			s.logger.Warn("could not generate api key for new identity", "identity_id", ident.ID, "error", err)
		} else {
			secrets.APIKey = issued.Secret
		}
	}

	created, err := s.target(ctx, ident.ID)
	if err != nil {
		return nil, nil, err
	}
	if secrets.TemporaryPassword == "" && secrets.APIKey == "" {
		secrets = nil
	}
	return created, secrets, nil
}

func (s *IdentityService) resolveGroups(ctx context.Context, names []string, ids []int64) ([]model.Group, error) {
	switch {
	case len(names) > 0:
		groups, err := s.store.GroupsByNames(ctx, names)
		if err != nil {
			return nil, internal("resolve groups", err)
		}
		var unknown []string
		for _, n := range names {
			if !slices.ContainsFunc(groups, func(g model.Group) bool { return g.Name == n }) {
				unknown = append(unknown, n)
			}
		}
		if len(unknown) > 0 {
			return nil, newError(KindValidation, CodeUnknownGroup, "unknown groups: "+strings.Join(unknown, ", "))
		}
		return groups, nil
	case len(ids) > 0:
		groups, err := s.store.GroupsByIDs(ctx, ids)
		if err != nil {
			return nil, internal("resolve groups", err)
		}
		for _, id := range ids {
			if !slices.ContainsFunc(groups, func(g model.Group) bool { return g.ID == id }) {
				return nil, newError(KindValidation, CodeUnknownGroup, "unknown group id in group list")
			}
		}
		return groups, nil
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

// Update applies profile changes under the three-tier write policy and
// returns the updated identity with the names of the fields changed.
// Deactivating an identity ends its sessions.
func (s *IdentityService) Update(ctx context.Context, p *Principal, id int64, changes map[string]interface{}) (*model.Identity, []string, error) {
	fields, err := s.UpdateMany(ctx, p, []int64{id}, changes)
	if err != nil {
		return nil, nil, err
	}
	updated, err := s.target(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return updated, fields, nil
}

// UpdateMany applies the same changes to every id. Every target is checked
// before anything is written, and the writes share one transaction, so a
// denied or missing id leaves all identities untouched.
func (s *IdentityService) UpdateMany(ctx context.Context, p *Principal, ids []int64, changes map[string]interface{}) ([]string, error) {
	updates := make([]store.IdentityUpdate, 0, len(ids))
	for _, id := range ids {
		u, err := s.prepareUpdate(ctx, p, id, changes)
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}

	if err := s.store.UpdateIdentities(ctx, updates); err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicate):
			return nil, newError(KindConflict, CodeConflict, "login already exists")
		case errors.Is(err, store.ErrNotFound):
			return nil, errUserNotFound
		}
		return nil, internal("update identities", err)
	}

	for _, u := range updates {
		if active, ok := u.Columns["active"].(bool); ok && !active {
			if n, err := s.sessions.InvalidateAll(ctx, u.ID); err != nil {
				s.logger.Warn("failed to end sessions of deactivated identity", "identity_id", u.ID, "error", err)
			} else if n > 0 {
				s.logger.Info("sessions ended for deactivated identity", "identity_id", u.ID, "sessions", n)
			}
		}
	}
	return sortedKeys(changes), nil
}

// prepareUpdate checks that p may apply changes to id and converts them
// into a store update without writing anything.
func (s *IdentityService) prepareUpdate(ctx context.Context, p *Principal, id int64, changes map[string]interface{}) (store.IdentityUpdate, error) {
	if _, err := s.target(ctx, id); err != nil {
		return store.IdentityUpdate{}, err
	}
	if p.Identity.ID != id && !p.Identity.CanManageUsers() {
		return store.IdentityUpdate{}, newError(KindAccessDenied, CodeAccessDenied, "can only update own profile or need admin rights")
	}
	if err := s.access.CheckIdentityWrite(p.Identity, id, changes); err != nil {
		return store.IdentityUpdate{}, err
	}

	columns := make(map[string]interface{}, len(changes))
	var (
		groups    []model.Group
		setGroups bool
	)
	for _, k := range sortedKeys(changes) {
		v := changes[k]
		switch k {
		case "login", "name":
			str, err := asString(k, v)
			if err != nil {
				return store.IdentityUpdate{}, err
			}
			if strings.TrimSpace(str) == "" {
				return store.IdentityUpdate{}, newError(KindValidation, CodeInvalidValue, k+" cannot be empty")
			}
			columns[k] = str
		case "email", "phone", "mobile", "signature", "lang", "tz":
			str, err := asString(k, v)
			if err != nil {
				return store.IdentityUpdate{}, err
			}
			columns[k] = str
		case "active":
			b, err := asBool(k, v)
			if err != nil {
				return store.IdentityUpdate{}, err
			}
			columns[k] = b
		case "company_id":
			n, err := optionalInt64(k, v)
			if err != nil {
				return store.IdentityUpdate{}, err
			}
			columns[k] = n
		case "company_ids":
			list, err := asInt64List(k, v)
			if err != nil {
				return store.IdentityUpdate{}, err
			}
			columns[k] = list
		case "groups_id", "group_ids":
			list, err := asInt64List(k, v)
			if err != nil {
				return store.IdentityUpdate{}, err
			}
			if groups, err = s.resolveGroups(ctx, nil, list); err != nil {
				return store.IdentityUpdate{}, err
			}
			setGroups = true
		case "group_names":
			list, err := asStringList(k, v)
			if err != nil {
				return store.IdentityUpdate{}, err
			}
			if groups, err = s.resolveGroups(ctx, list, nil); err != nil {
				return store.IdentityUpdate{}, err
			}
			setGroups = true
		}
	}

	u := store.IdentityUpdate{ID: id, Columns: columns, SetGroups: setGroups}
	for _, g := range groups {
		u.GroupIDs = append(u.GroupIDs, g.ID)
	}
	return u, nil
}

// ---------------------------------------------------------------------------
// Passwords and keys
// ---------------------------------------------------------------------------

// ChangePassword sets a new password. Identities changing their own
// password must give the old one unless they are user managers.
func (s *IdentityService) ChangePassword(ctx context.Context, p *Principal, id int64, newPassword, oldPassword string) error {
	if newPassword == "" {
		return newError(KindValidation, CodeMissingPassword, "new_password is required")
	}
	target, err := s.target(ctx, id)
	if err != nil {
		return err
	}
	own := p.Identity.ID == id
	manager := p.Identity.CanManageUsers()
	if !own && !manager {
		return newError(KindAccessDenied, CodeAccessDenied, "can only change own password or need admin rights")
	}
	if own && !manager {
		if oldPassword == "" {
			return newError(KindValidation, CodeMissingOldPassword, "old_password is required when changing own password")
		}
		if _, err := s.store.VerifyCredentials(ctx, target.Login, oldPassword); err != nil {
			if errors.Is(err, store.ErrInvalidCredentials) {
				return newError(KindInvalidCredential, CodeInvalidOldPassword, "invalid old password")
			}
			return internal("verify old password", err)
		}
	}
	return s.setPassword(ctx, id, newPassword)
}

// ResetPassword replaces the password with a generated temporary one and
// returns it. User managers only.
func (s *IdentityService) ResetPassword(ctx context.Context, p *Principal, id int64) (string, error) {
	if !p.Identity.CanManageUsers() {
		return "", errNeedUserManager
	}
	if _, err := s.target(ctx, id); err != nil {
		return "", err
	}
	temp, err := NewTempPassword()
	if err != nil {
		return "", internal("generate password", err)
	}
	if err := s.setPassword(ctx, id, temp); err != nil {
		return "", err
	}
	return temp, nil
}

func (s *IdentityService) setPassword(ctx context.Context, id int64, password string) error {
	hash, err := store.HashPassword(password)
	if err != nil {
		return internal("hash password", err)
	}
	if err := s.store.SetPassword(ctx, id, hash); err != nil {
		return internal("set password", err)
	}
	s.logger.Info("password changed", "identity_id", id)
	return nil
}

// IssueKey generates a new API key for the identity, replacing its old one.
// Allowed for the identity itself and for user managers.
func (s *IdentityService) IssueKey(ctx context.Context, p *Principal, id int64, label string) (*model.Identity, *model.IssuedKey, error) {
	if p.Identity.ID != id && !p.Identity.CanManageUsers() {
		return nil, nil, errOwnOrUserManager
	}
	target, err := s.target(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if label == "" {
		label = "Generated API Key"
	}
	issued, err := s.creds.Issue(ctx, id, label)
	if err != nil {
		return nil, nil, internal("issue api key", err)
	}
	return target, issued, nil
}

// RevokeKey removes the identity's API key.
func (s *IdentityService) RevokeKey(ctx context.Context, p *Principal, id int64) error {
	if p.Identity.ID != id && !p.Identity.CanManageUsers() {
		return errOwnOrUserManager
	}
	if _, err := s.target(ctx, id); err != nil {
		return err
	}
	if err := s.creds.Revoke(ctx, id); err != nil {
		return internal("revoke api key", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Directory
// ---------------------------------------------------------------------------

// UserList is one page of the identity directory.
type UserList struct {
	Users      []map[string]interface{} `json:"users"`
	Count      int                      `json:"count"`
	TotalCount int64                    `json:"total_count"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

// List returns a page of identities ordered by name. Internal users only;
// user managers see more fields.
func (s *IdentityService) List(ctx context.Context, p *Principal, search string, activeOnly bool, page Page) (*UserList, error) {
	if !p.Identity.IsUser() {
		return nil, newError(KindAccessDenied, CodeAccessDenied, "access denied")
	}
	idents, total, err := s.store.ListIdentities(ctx, store.IdentityFilter{
		Search:     search,
		ActiveOnly: activeOnly,
		Limit:      page.Limit,
		Offset:     page.Offset,
	})
	if err != nil {
		return nil, internal("list identities", err)
	}
	manager := p.Identity.CanManageUsers()
	users := make([]map[string]interface{}, len(idents))
	for i := range idents {
		users[i] = listView(&idents[i], manager)
	}
	return &UserList{Users: users, Count: len(users), TotalCount: total, Limit: page.Limit, Offset: page.Offset}, nil
}

// Get returns one identity with the fields the viewer may see.
func (s *IdentityService) Get(ctx context.Context, p *Principal, id int64) (map[string]interface{}, error) {
	target, err := s.target(ctx, id)
	if err != nil {
		return nil, err
	}
	own := p.Identity.ID == id
	manager := p.Identity.CanManageUsers()
	if !own && !manager && !p.Identity.IsUser() {
		return nil, newError(KindAccessDenied, CodeAccessDenied, "access denied")
	}
	var key *model.APIKey
	if manager {
		if key, err = s.creds.KeyFor(ctx, id); err != nil {
			return nil, internal("get api key", err)
		}
	}
	return userView(target, own, manager, key), nil
}

// Groups returns every group keyed by category. User managers only.
func (s *IdentityService) Groups(ctx context.Context, p *Principal) (map[string][]model.Group, int, error) {
	if !p.Identity.CanManageUsers() {
		return nil, 0, errNeedUserManager
	}
	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		return nil, 0, internal("list groups", err)
	}
	byCategory := make(map[string][]model.Group)
	for _, g := range groups {
		cat := g.Category
		if cat == "" {
			cat = "Other"
		}
		byCategory[cat] = append(byCategory[cat], g)
	}
	return byCategory, len(groups), nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func optionalInt64(field string, v interface{}) (*int64, error) {
	if v == nil {
		return nil, nil
	}
	n, err := asInt64(field, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func boolPtr(field string, v interface{}) (*bool, error) {
	b, err := asBool(field, v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func valueOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
