package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/porticoapi/portico/internal/model"
)

// identityRow maps 1:1 to the identities table. company_ids is stored as a
// JSON array.
type identityRow struct {
	ID           int64      `db:"id"`
	Login        string     `db:"login"`
	Name         string     `db:"name"`
	Email        string     `db:"email"`
	Phone        string     `db:"phone"`
	Mobile       string     `db:"mobile"`
	Signature    string     `db:"signature"`
	Lang         string     `db:"lang"`
	TZ           string     `db:"tz"`
	Active       bool       `db:"active"`
	CompanyID    *int64     `db:"company_id"`
	CompanyIDs   string     `db:"company_ids"`
	PasswordHash string     `db:"password_hash"`
	LoginDate    *time.Time `db:"login_date"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func identityRowFromModel(ident *model.Identity) (identityRow, error) {
	companyIDs := ident.CompanyIDs
	if companyIDs == nil {
		companyIDs = []int64{}
	}
	b, err := json.Marshal(companyIDs)
	if err != nil {
		return identityRow{}, fmt.Errorf("marshal company ids: %w", err)
	}
	return identityRow{
		ID:           ident.ID,
		Login:        ident.Login,
		Name:         ident.Name,
		Email:        ident.Email,
		Phone:        ident.Phone,
		Mobile:       ident.Mobile,
		Signature:    ident.Signature,
		Lang:         ident.Lang,
		TZ:           ident.TZ,
		Active:       ident.Active,
		CompanyID:    ident.CompanyID,
		CompanyIDs:   string(b),
		PasswordHash: ident.PasswordHash,
		LoginDate:    ident.LoginDate,
		CreatedAt:    ident.CreatedAt,
		UpdatedAt:    ident.UpdatedAt,
	}, nil
}

func (r identityRow) toModel() (model.Identity, error) {
	var companyIDs []int64
	if r.CompanyIDs != "" {
		if err := json.Unmarshal([]byte(r.CompanyIDs), &companyIDs); err != nil {
			return model.Identity{}, fmt.Errorf("unmarshal company ids: %w", err)
		}
	}
	if companyIDs == nil {
		companyIDs = []int64{}
	}
	return model.Identity{
		ID:           r.ID,
		Login:        r.Login,
		Name:         r.Name,
		Email:        r.Email,
		Phone:        r.Phone,
		Mobile:       r.Mobile,
		Signature:    r.Signature,
		Lang:         r.Lang,
		TZ:           r.TZ,
		Active:       r.Active,
		CompanyID:    r.CompanyID,
		CompanyIDs:   companyIDs,
		PasswordHash: r.PasswordHash,
		LoginDate:    r.LoginDate,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		Groups:       []model.Group{},
	}, nil
}

// IdentityFilter narrows ListIdentities.
type IdentityFilter struct {
	Search     string // substring of login, name or email
	ActiveOnly bool
	Limit      int
	Offset     int
}

// updatableIdentityColumns lists the columns UpdateIdentity may touch.
var updatableIdentityColumns = map[string]bool{
	"name": true, "email": true, "phone": true, "mobile": true,
	"signature": true, "lang": true, "tz": true, "login": true,
	"active": true, "company_id": true, "company_ids": true,
}

// CreateIdentity inserts a new identity and its group memberships. ID,
// CreatedAt and UpdatedAt are populated on success.
func (s *Store) CreateIdentity(ctx context.Context, ident *model.Identity, groupIDs []int64) error {
	now := time.Now().UTC()
	ident.CreatedAt = now
	ident.UpdatedAt = now
	if ident.Lang == "" {
		ident.Lang = "en_US"
	}
	if ident.TZ == "" {
		ident.TZ = "UTC"
	}

	row, err := identityRowFromModel(ident)
	if err != nil {
		return err
	}

	const q = `INSERT INTO identities
		(login, name, email, phone, mobile, signature, lang, tz, active,
		 company_id, company_ids, password_hash, created_at, updated_at)
		VALUES
		(:login, :name, :email, :phone, :mobile, :signature, :lang, :tz, :active,
		 :company_id, :company_ids, :password_hash, :created_at, :updated_at)`

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, q, row)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert identity %q: %w", ident.Login, ErrDuplicate)
			}
			return fmt.Errorf("insert identity: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("get identity id: %w", err)
		}
		if err := setIdentityGroups(ctx, tx, id, groupIDs); err != nil {
			return err
		}
		ident.ID = id
		return nil
	})
}

// GetIdentity returns an identity with its groups.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*model.Identity, error) {
	return s.getIdentity(ctx, "SELECT * FROM identities WHERE id = ?", id)
}

// GetIdentityByLogin returns an identity by its unique login.
func (s *Store) GetIdentityByLogin(ctx context.Context, login string) (*model.Identity, error) {
	return s.getIdentity(ctx, "SELECT * FROM identities WHERE login = ?", login)
}

func (s *Store) getIdentity(ctx context.Context, q string, arg interface{}) (*model.Identity, error) {
	var row identityRow
	if err := s.db.GetContext(ctx, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	ident, err := row.toModel()
	if err != nil {
		return nil, err
	}
	groups, err := s.IdentityGroups(ctx, ident.ID)
	if err != nil {
		return nil, err
	}
	ident.Groups = groups
	return &ident, nil
}

// ListIdentities returns a page of identities ordered by name, plus the
// total number of matches.
func (s *Store) ListIdentities(ctx context.Context, f IdentityFilter) ([]model.Identity, int64, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ActiveOnly {
		where = append(where, "active = 1")
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		where = append(where, "(login LIKE ? OR name LIKE ? OR email LIKE ?)")
		args = append(args, like, like, like)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM identities"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count identities: %w", err)
	}

	q := "SELECT * FROM identities" + clause + " ORDER BY name, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	var rows []identityRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, 0, fmt.Errorf("list identities: %w", err)
	}

	out := make([]model.Identity, 0, len(rows))
	for _, r := range rows {
		ident, err := r.toModel()
		if err != nil {
			return nil, 0, err
		}
		groups, err := s.IdentityGroups(ctx, ident.ID)
		if err != nil {
			return nil, 0, err
		}
		ident.Groups = groups
		out = append(out, ident)
	}
	return out, total, nil
}

// UpdateIdentity applies column changes to an identity. Keys outside the
// updatable column set are rejected.
func (s *Store) UpdateIdentity(ctx context.Context, id int64, changes map[string]interface{}) error {
	return updateIdentity(ctx, s.db, id, changes)
}

// IdentityUpdate is one identity's share of UpdateIdentities.
type IdentityUpdate struct {
	ID        int64
	Columns   map[string]interface{}
	SetGroups bool
	GroupIDs  []int64
}

// UpdateIdentities applies every update in one transaction: either all
// identities change or none do.
func (s *Store) UpdateIdentities(ctx context.Context, updates []IdentityUpdate) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, u := range updates {
			if err := updateIdentity(ctx, tx, u.ID, u.Columns); err != nil {
				return err
			}
			if u.SetGroups {
				if err := setIdentityGroups(ctx, tx, u.ID, u.GroupIDs); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func updateIdentity(ctx context.Context, db sqlx.ExecerContext, id int64, changes map[string]interface{}) error {
	if len(changes) == 0 {
		return nil
	}

	sets := make([]string, 0, len(changes)+1)
	args := make([]interface{}, 0, len(changes)+2)
	for col, val := range changes {
		if !updatableIdentityColumns[col] {
			return fmt.Errorf("update identity: column %q is not updatable", col)
		}
		if col == "company_ids" {
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("marshal company ids: %w", err)
			}
			val = string(b)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	q := "UPDATE identities SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := db.ExecContext(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("update identity: %w", ErrDuplicate)
		}
		return fmt.Errorf("update identity: %w", err)
	}
	return requireRows(result, "update identity")
}

// SetPassword replaces an identity's password hash.
func (s *Store) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	return requireRows(result, "set password")
}

// TouchLogin records a successful password login.
func (s *Store) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE identities SET login_date = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch login: %w", err)
	}
	return requireRows(result, "touch login")
}

// HasAnyAdmin reports whether at least one active identity holds the admin
// group. Used for first-run detection.
func (s *Store) HasAnyAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT COUNT(*) FROM identities i
		JOIN identity_groups ig ON ig.identity_id = i.id
		JOIN groups g ON g.id = ig.group_id
		WHERE g.name = ? AND i.active = 1`
	var count int
	if err := s.db.GetContext(ctx, &count, q, model.GroupAdmin); err != nil {
		return false, fmt.Errorf("count admins: %w", err)
	}
	return count > 0, nil
}

// dummyHash is compared against when a login does not exist so that unknown
// logins and wrong passwords take the same time.
var dummyHash, _ = HashPassword("portico-timing-equalizer")

// VerifyCredentials checks a login/password pair. It returns
// ErrInvalidCredentials for an unknown login and for a wrong password, and
// returns inactive identities so the caller can report them distinctly.
func (s *Store) VerifyCredentials(ctx context.Context, login, password string) (*model.Identity, error) {
	ident, err := s.GetIdentityByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = VerifyPassword(dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if ident.PasswordHash == "" {
		_ = VerifyPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err := VerifyPassword(ident.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	return ident, nil
}

// requireRows maps a zero-row update to ErrNotFound.
func requireRows(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
