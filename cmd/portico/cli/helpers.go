package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/porticoapi/portico/internal/config"
	"github.com/porticoapi/portico/internal/connector"
	"github.com/porticoapi/portico/internal/connector/mssql"
	"github.com/porticoapi/portico/internal/connector/mysql"
	"github.com/porticoapi/portico/internal/connector/postgres"
	"github.com/porticoapi/portico/internal/connector/snowflake"
	"github.com/porticoapi/portico/internal/connector/sqlite"
	"github.com/porticoapi/portico/internal/model"
	"github.com/porticoapi/portico/internal/recordstore"
	"github.com/porticoapi/portico/internal/service"
	"github.com/porticoapi/portico/internal/store"
	"github.com/porticoapi/portico/internal/telemetry"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// PORTICO_DATA_DIR env var, or ~/.portico as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := viper.GetString("data_dir"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".portico")
}

// openStore opens the system store in the data directory.
func openStore() (*store.Store, error) {
	st, err := store.New(resolveDataDir())
	if err != nil {
		return nil, fmt.Errorf("open system store: %w", err)
	}
	return st, nil
}

// newRegistry creates a connector registry with all supported database drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("mssql", func() connector.Connector { return mssql.New() })
	registry.RegisterDriver("snowflake", func() connector.Connector { return snowflake.New() })
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	return registry
}

// app is the fully wired runtime shared by serve, openapi and mcp.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	records *recordstore.SQLStore
	sources *service.SourceManager
	core    *service.Core
	metrics *telemetry.Metrics
}

// openApp loads the configuration, opens the system store, mounts the
// identity directory and every active source, and builds the service core.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	st, err := openStore()
	if err != nil {
		return nil, err
	}
	logger.Info("system store opened", "path", resolveDataDir())

	records := recordstore.New(st, logger)
	sources := service.NewSourceManager(st, newRegistry(), records, logger)
	if err := sources.MountSystem(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("mount identity directory: %w", err)
	}

	declared := make([]model.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		declared = append(declared, s.ToModel())
	}
	if err := sources.Declare(ctx, declared); err != nil {
		sources.Close()
		st.Close()
		return nil, fmt.Errorf("declare sources: %w", err)
	}
	n, err := sources.MountAll(ctx)
	if err != nil {
		logger.Warn("failed to load sources", "error", err)
	}
	logger.Info("record sources mounted", "collections", n)

	metrics := telemetry.New()
	core := service.NewCore(st, records, service.Settings{
		SessionTTL:    cfg.Auth.SessionTTL,
		RefreshGrace:  cfg.Auth.RefreshGrace,
		KeyTTL:        cfg.Auth.APIKeyTTL,
		DefaultLimit:  cfg.Records.DefaultLimit,
		MaxLimit:      cfg.Records.MaxLimit,
		InferInactive: cfg.Records.InferInactiveFromFilters,
	}, logger, metrics)

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		records: records,
		sources: sources,
		core:    core,
		metrics: metrics,
	}, nil
}

// Close disconnects every source and closes the system store.
func (a *app) Close() {
	a.sources.Close()
	a.store.Close()
}

// lookupIdentity finds an identity by login, or by numeric id.
func lookupIdentity(ctx context.Context, st *store.Store, ref string) (*model.Identity, error) {
	ident, err := st.GetIdentityByLogin(ctx, ref)
	if err == nil {
		return ident, nil
	}
	if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
		if byID, err := st.GetIdentity(ctx, id); err == nil {
			return byID, nil
		}
	}
	return nil, fmt.Errorf("identity %q: %w", ref, err)
}

// promptPassword reads a password twice from the terminal without echo.
func promptPassword(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	fmt.Fprint(os.Stderr, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

func checkPassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "portico.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// commandLogger returns the configured logger for one-shot commands,
// falling back to warnings on stderr when the config cannot be loaded.
func commandLogger() *slog.Logger {
	if cfg, err := loadConfig(); err == nil {
		if l, err := newLogger(cfg.Logging); err == nil {
			return l
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
