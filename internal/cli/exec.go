package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shakram02/sqlproxy/internal/dsn"
	"github.com/shakram02/sqlproxy/internal/policy"
	"github.com/shakram02/sqlproxy/internal/proxy"
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] SQL",
	Short: "Execute one statement on a temporary connection",
	Long: `Exec opens a connection, runs a single statement under the given
permissions, prints the result as JSON and disconnects. Pass "-" as SQL to
read the statement from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	rootCmd.AddCommand(execCmd)
	execCmd.Flags().String("db-type", "", "Backend (postgresql, mysql, sqlite)")
	execCmd.Flags().String("uri", "", "Connection URI")
	execCmd.Flags().Bool("allow-write", false, "Allow INSERT, UPDATE, DELETE and other non-SELECT statements")
	execCmd.Flags().Bool("allow-ddl", false, "Allow CREATE, DROP, ALTER, TRUNCATE and RENAME")
	execCmd.Flags().Bool("dry-run", false, "Print the query plan instead of executing")
}

func runExec(cmd *cobra.Command, args []string) error {
	dbType, _ := cmd.Flags().GetString("db-type")
	uri, _ := cmd.Flags().GetString("uri")
	if dbType == "" || uri == "" {
		return fmt.Errorf("--db-type and --uri are required")
	}
	allowWrite, _ := cmd.Flags().GetBool("allow-write")
	allowDDL, _ := cmd.Flags().GetBool("allow-ddl")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	sqlText := args[0]
	if sqlText == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read statement: %w", err)
		}
		sqlText = strings.TrimSpace(string(data))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	kind, err := dsn.ParseKind(dbType)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ConnectTimeout+cfg.QueryTimeout)
	defer cancel()

	perms := policy.Permissions{WriteAllowed: allowWrite, DDLAllowed: allowDDL}
	res, err := proxy.ExecuteOnce(ctx, kind, uri, perms, sqlText, dryRun,
		proxy.WithLogger(logger),
		proxy.WithMaxRows(cfg.MaxRows),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", proxy.ErrorKind(err), err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
