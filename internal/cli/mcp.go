package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the proxy as MCP tools on stdin/stdout",
	Long: `Mcp speaks newline-delimited JSON-RPC 2.0 on stdin/stdout so the proxy can
be attached to an MCP client. Logs go to stderr.

With --db-type and --uri the connection is opened before the first request;
otherwise the client connects with the connect_db tool.`,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().String("db-type", "", "Backend to connect at startup (postgresql, mysql, sqlite)")
	mcpCmd.Flags().String("uri", "", "Connection URI to open at startup")
	mcpCmd.Flags().Bool("allow-write", false, "Start with write permission enabled")
	mcpCmd.Flags().Bool("allow-ddl", false, "Start with DDL permission enabled")
	mcpCmd.Flags().Bool("generate", false, "Expose the generate_sql tool")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, logger, engine, err := setup(cmd)
	if err != nil {
		return err
	}
	defer engine.Disconnect()

	dbType, _ := cmd.Flags().GetString("db-type")
	uri, _ := cmd.Flags().GetString("uri")
	allowWrite, _ := cmd.Flags().GetBool("allow-write")
	allowDDL, _ := cmd.Flags().GetBool("allow-ddl")
	generate, _ := cmd.Flags().GetBool("generate")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if (dbType == "") != (uri == "") {
		return fmt.Errorf("--db-type and --uri must be given together")
	}
	if uri != "" {
		kind, err := dsn.ParseKind(dbType)
		if err != nil {
			return err
		}
		connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		_, err = engine.Connect(connectCtx, kind, uri)
		cancel()
		if err != nil {
			return err
		}
	}
	engine.SetPermissions(allowWrite, allowDDL)

	opts := []mcp.Option{
		mcp.WithLogger(logger),
		mcp.WithTimeouts(cfg.QueryTimeout, cfg.ConnectTimeout),
		mcp.WithVersion(version),
	}
	if generate {
		gen, err := newGenerator(cfg)
		if err != nil {
			return err
		}
		opts = append(opts, mcp.WithGenerator(gen))
	}

	logger.Info("mcp server started", "connected", uri != "", "allow_write", allowWrite, "allow_ddl", allowDDL)

	err = mcp.NewServer(engine, opts...).Run(ctx, os.Stdin, os.Stdout)
	if err == context.Canceled {
		logger.Info("mcp server shutdown gracefully")
		return nil
	}
	return err
}
