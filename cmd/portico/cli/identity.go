package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/service"
	"github.com/porticoapi/portico/internal/store"
)

func newIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "identity",
		Aliases: []string{"user"},
		Short:   "Manage identities",
		Long:    "Create, list, and deactivate the identities that authenticate against the Portico API.",
	}

	cmd.AddCommand(newIdentityCreateCmd())
	cmd.AddCommand(newIdentityListCmd())
	cmd.AddCommand(newIdentityPasswdCmd())
	cmd.AddCommand(newIdentityDeactivateCmd())

	return cmd
}

// ---------- identity create ----------

func newIdentityCreateCmd() *cobra.Command {
	var (
		login    string
		name     string
		email    string
		password string
		groups   []string
		withKey  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new identity",
		Example: `  portico identity create --login alice --group user_manager
  portico identity create --login ci --group user --with-key --password 'long enough'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentityCreate(cmd.Context(), login, name, email, password, groups, withKey)
		},
	}

	cmd.Flags().StringVar(&login, "login", "", "Unique login (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the login)")
	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringSliceVar(&groups, "group", []string{model.DefaultGroup}, "Group to join (repeatable)")
	cmd.Flags().BoolVar(&withKey, "with-key", false, "Also issue an API key")
	cmd.MarkFlagRequired("login")

	return cmd
}

func runIdentityCreate(ctx context.Context, login, name, email, password string, groupNames []string, withKey bool) error {
	if password == "" {
		var err error
		if password, err = promptPassword("Password"); err != nil {
			return err
		}
	}
	if err := checkPassword(password); err != nil {
		return err
	}
	if name == "" {
		name = login
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	groups, err := st.GroupsByNames(ctx, groupNames)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	ids := make([]int64, 0, len(groups))
	for _, n := range groupNames {
		i := slices.IndexFunc(groups, func(g model.Group) bool { return g.Name == n })
		if i < 0 {
			return fmt.Errorf("unknown group %q", n)
		}
		ids = append(ids, groups[i].ID)
	}

	hash, err := store.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ident := &model.Identity{Login: login, Name: name, Email: email, Active: true, PasswordHash: hash, CompanyIDs: []int64{}}
	if err := st.CreateIdentity(ctx, ident, ids); err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	fmt.Printf("Created identity %q (id=%d, groups=%s)\n", login, ident.ID, strings.Join(groupNames, ","))

	if withKey {
		issued, err := service.NewCredentialStore(st, commandLogger()).Issue(ctx, ident.ID, "CLI")
		if err != nil {
			return fmt.Errorf("issue api key: %w", err)
		}
		printIssuedKey(issued)
	}
	return nil
}

// ---------- identity list ----------

func newIdentityListCmd() *cobra.Command {
	var (
		search     string
		activeOnly bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentityList(cmd.Context(), search, activeOnly, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Filter by login, name or email substring")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only list active identities")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runIdentityList(ctx context.Context, search string, activeOnly, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	idents, _, err := st.ListIdentities(ctx, store.IdentityFilter{Search: search, ActiveOnly: activeOnly})
	if err != nil {
		return fmt.Errorf("list identities: %w", err)
	}

	type identityRow struct {
		ID     int64    `json:"id"`
		Login  string   `json:"login"`
		Name   string   `json:"name"`
		Active bool     `json:"active"`
		Groups []string `json:"groups"`
	}
	rows := make([]identityRow, len(idents))
	for i := range idents {
		rows[i] = identityRow{
			ID:     idents[i].ID,
			Login:  idents[i].Login,
			Name:   idents[i].Name,
			Active: idents[i].Active,
			Groups: idents[i].GroupNames(),
		}
	}

	if jsonOutput {
		return printJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No identities found. Use 'portico identity create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-20s %-24s %-8s %s\n", "ID", "LOGIN", "NAME", "ACTIVE", "GROUPS")
	fmt.Printf("%-6s %-20s %-24s %-8s %s\n", "--", "-----", "----", "------", "------")
	for _, r := range rows {
		fmt.Printf("%-6d %-20s %-24s %-8s %s\n", r.ID, r.Login, r.Name, yesNo(r.Active), strings.Join(r.Groups, ","))
	}
	return nil
}

// ---------- identity passwd ----------

func newIdentityPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <login>",
		Short: "Set an identity's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentityPasswd(cmd.Context(), args[0])
		},
	}
}

func runIdentityPasswd(ctx context.Context, ref string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := lookupIdentity(ctx, st, ref)
	if err != nil {
		return err
	}
	password, err := promptPassword("New password")
	if err != nil {
		return err
	}
	if err := checkPassword(password); err != nil {
		return err
	}
	hash, err := store.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := st.SetPassword(ctx, ident.ID, hash); err != nil {
		return fmt.Errorf("set password: %w", err)
	}
	fmt.Printf("Password updated for %q\n", ident.Login)
	return nil
}

// ---------- identity deactivate ----------

func newIdentityDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <login>",
		Short: "Deactivate an identity and end its sessions",
		Long:  "Mark an identity inactive. Its API key and sessions stop authenticating immediately.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentityDeactivate(cmd.Context(), args[0])
		},
	}
}

func runIdentityDeactivate(ctx context.Context, ref string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := lookupIdentity(ctx, st, ref)
	if err != nil {
		return err
	}
	if err := st.UpdateIdentity(ctx, ident.ID, map[string]interface{}{"active": false}); err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	n, err := service.NewSessionManager(st, commandLogger()).InvalidateAll(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("end sessions: %w", err)
	}
	fmt.Printf("Deactivated %q (%d sessions ended)\n", ident.Login, n)
	return nil
}
