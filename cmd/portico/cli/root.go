package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/porticoapi/portico/internal/config"
)

var (
	cfgFile    string
	appVersion string // set in Execute, reported by serve, openapi and mcp
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portico",
		Short: "Authenticated HTTP facade over SQL record stores",
		Long: `Portico exposes tables from SQL databases as record collections behind a
JSON API. Callers authenticate with a per-identity API key or a server-side
session token, and group-based access rules decide what they may read,
create and write.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: portico.yaml in the data dir or ./)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the system database (default: ~/.portico)")
	cmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	cmd.PersistentFlags().String("log-format", "", "log format: text or json")

	viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newIdentityCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newSourceCmd())
	cmd.AddCommand(newAccessCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// initConfig wires PORTICO_* environment variables into viper. The YAML
// file itself is read by loadConfig; viper only carries flags and env.
func initConfig() {
	viper.SetEnvPrefix("PORTICO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// configPath returns the config file to load, or "" when none exists.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := viper.GetString("config"); p != "" {
		return p
	}
	for _, p := range []string{filepath.Join(resolveDataDir(), "portico.yaml"), "portico.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadConfig reads the config file, if any, on top of the defaults and then
// applies flag and environment overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := configPath(); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Apply(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs always go to stderr so stdout
// stays free for command output and the MCP stdio transport.
func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q; use text or json", cfg.Format)
}
