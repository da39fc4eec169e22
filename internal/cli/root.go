package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shakram02/sqlproxy/internal/config"
	"github.com/shakram02/sqlproxy/internal/policy"
	"github.com/shakram02/sqlproxy/internal/proxy"
	"github.com/shakram02/sqlproxy/internal/sqlgen"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sqlproxy",
	Short: "Permission-gated SQL proxy for PostgreSQL, MySQL and SQLite",
	Long: `sqlproxy - Permission-gated SQL proxy

Holds a single database connection and executes SQL against it. Every
statement is classified before it runs: SELECT is always allowed, while
INSERT/UPDATE/DELETE and DDL statements need their permission switched on.

The proxy can be served over HTTP (serve), as MCP tools on stdio (mcp), or
used for a single statement from the shell (exec).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().IntP("verbose", "v", 0, "Verbosity level (0-3), overrides SQLPROXY_LOG_LEVEL when set")
	rootCmd.PersistentFlags().Int("max-rows", 0, "Row cap for SELECT results (default from SQLPROXY_MAX_ROWS)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sqlproxy %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if maxRows, _ := cmd.Flags().GetInt("max-rows"); maxRows > 0 {
		cfg.MaxRows = maxRows
	}
	return cfg, nil
}

// newLogger writes text logs to w. A verbosity above zero forces debug.
func newLogger(cmd *cobra.Command, cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if verbose, _ := cmd.Flags().GetInt("verbose"); verbose > 0 {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func engineOptions(cfg config.Config, logger *slog.Logger) ([]proxy.Option, error) {
	opts := []proxy.Option{
		proxy.WithLogger(logger),
		proxy.WithMaxRows(cfg.MaxRows),
	}

	if cfg.PermissionsURL != "" {
		src, err := policy.NewHTTPSource(policy.HTTPSourceOptions{
			BaseURL: cfg.PermissionsURL,
			Timeout: cfg.ConnectTimeout,
			MaxRPS:  cfg.PermissionsRPS,
			Token:   cfg.PermissionsToken,
		})
		if err != nil {
			return nil, fmt.Errorf("permission source: %w", err)
		}
		opts = append(opts, proxy.WithPermissionSource(src))
	}
	return opts, nil
}

func newGenerator(cfg config.Config) (sqlgen.Generator, error) {
	switch cfg.AIProvider {
	case config.ProviderOpenAI:
		gen, err := sqlgen.NewOpenAI(sqlgen.OpenAIOptions{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			MaxRPS:  cfg.AIRPS,
		})
		if err != nil {
			return nil, fmt.Errorf("openai generator: %w", err)
		}
		return gen, nil
	case config.ProviderGemini:
		gen, err := sqlgen.NewGemini(context.Background(), sqlgen.GeminiOptions{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			MaxRPS:  cfg.AIRPS,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini generator: %w", err)
		}
		return gen, nil
	default:
		return sqlgen.Mock{}, nil
	}
}

// setup is shared by the long-running commands. Logs go to stderr so the
// mcp command keeps stdout for protocol frames.
func setup(cmd *cobra.Command) (config.Config, *slog.Logger, *proxy.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	logger, err := newLogger(cmd, cfg, os.Stderr)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	opts, err := engineOptions(cfg, logger)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	return cfg, logger, proxy.New(opts...), nil
}
