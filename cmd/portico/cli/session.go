package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/porticoapi/portico/internal/service"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and purge login sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionSweepCmd())
	cmd.AddCommand(newSessionEndCmd())

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list <login>",
		Aliases: []string{"ls"},
		Short:   "List an identity's sessions",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd.Context(), args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runSessionList(ctx context.Context, ref string, jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := lookupIdentity(ctx, st, ref)
	if err != nil {
		return err
	}
	sessions, err := st.ListSessions(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	if jsonOutput {
		return printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions for %q.\n", ident.Login)
		return nil
	}

	fmt.Printf("%-6s %-26s %-26s %-8s %-16s %s\n", "ID", "CREATED", "EXPIRES", "ACTIVE", "IP", "USER AGENT")
	fmt.Printf("%-6s %-26s %-26s %-8s %-16s %s\n", "--", "-------", "-------", "------", "--", "----------")
	for _, s := range sessions {
		fmt.Printf("%-6d %-26s %-26s %-8s %-16s %s\n",
			s.ID, s.CreatedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339),
			yesNo(s.Active), s.IPAddress, s.UserAgent)
	}
	return nil
}

func newSessionSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions",
		Long:  "Delete every session whose expiry has passed. A running server does this on its own every auth.sweep_interval.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := service.NewSessionManager(st, commandLogger()).Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep sessions: %w", err)
			}
			fmt.Printf("Deleted %d expired sessions.\n", n)
			return nil
		},
	}
}

func newSessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <login>",
		Short: "End every session of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ident, err := lookupIdentity(ctx, st, args[0])
			if err != nil {
				return err
			}
			n, err := service.NewSessionManager(st, commandLogger()).InvalidateAll(ctx, ident.ID)
			if err != nil {
				return fmt.Errorf("end sessions: %w", err)
			}
			fmt.Printf("Ended %d sessions of %q.\n", n, ident.Login)
			return nil
		},
	}
}
