package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/service"
	"github.com/porticoapi/portico/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long: `Issue, list, and revoke API keys. Each identity holds at most one key;
issuing a new one replaces the previous key.`,
	}

	cmd.AddCommand(newKeyIssueCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())

	return cmd
}

// ---------- key issue ----------

func newKeyIssueCmd() *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:     "issue <login>",
		Aliases: []string{"create"},
		Short:   "Issue an API key for an identity",
		Long:    "Generate a new API key for an identity. The raw key is shown once and cannot be retrieved again.",
		Example: `  portico key issue alice --label "CI pipeline"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyIssue(cmd.Context(), args[0], label)
		},
	}

	cmd.Flags().StringVar(&label, "label", "CLI", "Human-readable label for the key")

	return cmd
}

func runKeyIssue(ctx context.Context, ref, label string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := lookupIdentity(ctx, st, ref)
	if err != nil {
		return err
	}

	var opts []service.CredentialOption
	if cfg, err := loadConfig(); err == nil {
		opts = append(opts, service.WithKeyTTL(cfg.Auth.APIKeyTTL))
	}
	issued, err := service.NewCredentialStore(st, commandLogger(), opts...).Issue(ctx, ident.ID, label)
	if err != nil {
		return fmt.Errorf("issue api key: %w", err)
	}
	printIssuedKey(issued)
	return nil
}

func printIssuedKey(issued *model.IssuedKey) {
	fmt.Println("API key issued:")
	fmt.Println()
	fmt.Printf("  Key:     %s\n", issued.Secret)
	fmt.Printf("  Prefix:  %s\n", issued.Key.KeyPrefix)
	if issued.Key.Label != "" {
		fmt.Printf("  Label:   %s\n", issued.Key.Label)
	}
	if issued.Key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", issued.Key.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(ctx)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	idents, _, err := st.ListIdentities(ctx, store.IdentityFilter{})
	if err != nil {
		return fmt.Errorf("list identities: %w", err)
	}
	logins := make(map[int64]string, len(idents))
	for _, ident := range idents {
		logins[ident.ID] = ident.Login
	}

	type keyRow struct {
		Prefix   string `json:"prefix"`
		Identity string `json:"identity"`
		Label    string `json:"label"`
		Expires  string `json:"expires,omitempty"`
		LastUsed string `json:"last_used,omitempty"`
	}

	now := time.Now()
	rows := make([]keyRow, len(keys))
	for i, k := range keys {
		login := logins[k.IdentityID]
		if login == "" {
			login = fmt.Sprintf("identity:%d", k.IdentityID)
		}
		row := keyRow{Prefix: k.KeyPrefix, Identity: login, Label: k.Label}
		if k.ExpiresAt != nil {
			row.Expires = k.ExpiresAt.Format(time.RFC3339)
			if k.ExpiresAt.Before(now) {
				row.Expires += " (expired)"
			}
		}
		if k.LastUsed != nil {
			row.LastUsed = k.LastUsed.Format(time.RFC3339)
		}
		rows[i] = row
	}

	if jsonOutput {
		return printJSON(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No API keys issued. Use 'portico key issue <login>' to issue one.")
		return nil
	}

	fmt.Printf("%-16s %-20s %-20s %-32s %s\n", "PREFIX", "IDENTITY", "LABEL", "EXPIRES", "LAST USED")
	fmt.Printf("%-16s %-20s %-20s %-32s %s\n", "------", "--------", "-----", "-------", "---------")
	for _, r := range rows {
		fmt.Printf("%-16s %-20s %-20s %-32s %s\n", r.Prefix, r.Identity, r.Label, r.Expires, r.LastUsed)
	}
	return nil
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <login>",
		Short: "Revoke an identity's API key",
		Long:  "Delete an identity's API key, preventing any further requests authenticated with it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyRevoke(cmd.Context(), args[0])
		},
	}
}

func runKeyRevoke(ctx context.Context, ref string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := lookupIdentity(ctx, st, ref)
	if err != nil {
		return err
	}
	if _, err := st.GetAPIKeyForIdentity(ctx, ident.ID); errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("identity %q has no API key", ident.Login)
	} else if err != nil {
		return fmt.Errorf("load api key: %w", err)
	}
	if err := service.NewCredentialStore(st, commandLogger()).Revoke(ctx, ident.ID); err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	fmt.Printf("Revoked API key of %q\n", ident.Login)
	return nil
}
