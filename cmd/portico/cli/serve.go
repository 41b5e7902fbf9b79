package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/server"
	"github.com/porticoapi/portico/internal/service"
	"github.com/porticoapi/portico/internal/store"
)

func newServeCmd() *cobra.Command {
	var adminLogin, adminPassword string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Portico API server",
		Long: `Start the HTTP server. Sources declared in the config file are saved to the
system store, then every active source is connected and its tables mounted
as collections.

On a store without any admin, --admin-login creates one. Without
--admin-password a temporary password is generated and printed once.`,
		Example: `  portico serve
  portico serve --port 9000 --admin-login root`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), adminLogin, adminPassword)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().StringVar(&adminLogin, "admin-login", "", "Create this admin on first start")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "Password for --admin-login (generated if omitted)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(ctx context.Context, adminLogin, adminPassword string) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	hasAdmin, err := a.store.HasAnyAdmin(ctx)
	if err != nil {
		return fmt.Errorf("check for admin: %w", err)
	}
	switch {
	case !hasAdmin && adminLogin != "":
		if err := seedAdmin(ctx, a.store, adminLogin, adminPassword); err != nil {
			return err
		}
		a.logger.Info("admin created", "login", adminLogin)
	case !hasAdmin:
		a.logger.Warn("no admin identity found - run: portico serve --admin-login <login> or portico identity create --group admin")
	}

	srv := server.New(a.cfg, server.Deps{
		Store:   a.store,
		Records: a.records,
		Sources: a.sources,
		Core:    a.core,
		Metrics: a.metrics,
		Version: versionString(),
	}, a.logger)

	if err := writePID(os.Getpid()); err != nil {
		a.logger.Warn("failed to write pid file", "path", pidFilePath(), "error", err)
	}
	defer removePID()

	base := "http://" + net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.Port))
	fmt.Printf("→ Portico %s\n", versionString())
	fmt.Printf("→ Listening on %s\n", base)
	fmt.Printf("→ API:        %s/api/v2\n", base)
	fmt.Printf("→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Printf("→ Health:     %s/healthz\n", base)
	if a.cfg.MCP.Enabled {
		fmt.Printf("→ MCP:        %s%s\n", base, a.cfg.MCP.Path)
	}
	fmt.Println()

	return srv.ListenAndServe()
}

// seedAdmin creates the first admin. A generated password is printed once.
func seedAdmin(ctx context.Context, st *store.Store, login, password string) error {
	generated := password == ""
	if generated {
		var err error
		if password, err = service.NewTempPassword(); err != nil {
			return fmt.Errorf("generate password: %w", err)
		}
	} else if err := checkPassword(password); err != nil {
		return err
	}

	groups, err := st.GroupsByNames(ctx, []string{model.GroupAdmin, model.GroupUserManager, model.GroupUser})
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}

	hash, err := store.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	ident := &model.Identity{Login: login, Name: login, Active: true, PasswordHash: hash, CompanyIDs: []int64{}}
	if err := st.CreateIdentity(ctx, ident, ids); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	if generated {
		fmt.Printf("Created admin %q with temporary password: %s\n", login, password)
		fmt.Println("  Save this password now - it cannot be retrieved again.")
		fmt.Println()
	}
	return nil
}
