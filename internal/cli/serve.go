package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shakram02/sqlproxy/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the proxy over HTTP",
	Long: `Serve exposes connect, disconnect, status, permissions, SQL execution and
SQL generation as JSON endpoints. Set SQLPROXY_JWT_SECRET to require a bearer
token on every endpoint except /health.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from SQLPROXY_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, engine, err := setup(cmd)
	if err != nil {
		return err
	}
	defer engine.Disconnect()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Addr = addr
	}

	gen, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeouts(cfg.QueryTimeout, cfg.ConnectTimeout),
		server.WithGenerator(gen),
	}
	if cfg.JWTSecret != "" {
		opts = append(opts, server.WithAuth(server.AuthConfig{
			JWTSecret: cfg.JWTSecret,
			Issuer:    cfg.JWTIssuer,
			Audience:  cfg.JWTAudience,
		}))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting sqlproxy", "addr", cfg.Addr, "generator", cfg.AIProvider, "auth", cfg.JWTSecret != "")
	return server.New(engine, opts...).Serve(ctx, cfg.Addr)
}
