package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"aocr/internal/app"
	"aocr/internal/db"
	"aocr/internal/engine/auth"
	"aocr/internal/logging"
)

const longHelp = `aocr manages AOCR certification requests ("solicitudes") through their review workflow.

A request starts in Draft, is sent by its owner and then passes finance, technical
and legal review. Documents, payments and inspections are recorded separately;
when one of them completes, the matching review step advances on its own.
Every state change is written to an append-only ledger ('aocr request history').

Settings come from flags or AOCR_* environment variables (AOCR_ACTOR_ID,
AOCR_DB_DRIVER, AOCR_DB_DSN, AOCR_JWT_SECRET, ...). Domain settings such as the
fee schedule and the role catalogue live in aocr.yml in the workspace.`

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aocr",
		Short:         "AOCR request workflow",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("db-driver") == "" || viper.GetString("db-driver") == string(db.SQLite) {
				if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
					return err
				}
			}
			return nil
		},
	}
	addPersistentFlags(root)
	root.AddCommand(requestCmd())
	root.AddCommand(documentCmd())
	root.AddCommand(paymentCmd())
	root.AddCommand(inspectionCmd())
	root.AddCommand(findingCmd())
	root.AddCommand(roleCmd())
	root.AddCommand(apikeyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(serveCmd())
	return root
}

func main() {
	cobra.OnInitialize(initConfig)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AOCR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "actor identifier")
	flags.StringSlice("roles", nil, "roles to act with; overrides stored grants")
	flags.String("db-driver", "sqlite", "database driver: sqlite or postgres")
	flags.String("db-dsn", "", "database DSN (postgres)")
	flags.String("log-level", "warn", "log level")
	flags.String("log-format", "console", "log format: console or json")
	for _, name := range []string{"workspace", "json", "actor-id", "roles", "db-driver", "db-dsn", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	logger, err := logging.New(logging.Config{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		Output: "stderr",
	})
	if err != nil {
		return err
	}
	defer logger.Sync()
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		Driver:    viper.GetString("db-driver"),
		DSN:       viper.GetString("db-dsn"),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}

func actorID() (string, error) {
	actor := strings.TrimSpace(viper.GetString("actor-id"))
	if actor == "" {
		return "", fmt.Errorf("actor not specified; use --actor-id or AOCR_ACTOR_ID")
	}
	if actor == auth.SystemActorID {
		return "", fmt.Errorf("actor %q is reserved for automatic transitions", actor)
	}
	return actor, nil
}

func actorRoles() []string {
	return viper.GetStringSlice("roles")
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func printJSONOrTable(w io.Writer, v any, render func(table.Writer)) error {
	if viper.GetBool("json") || render == nil {
		return printJSON(w, v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	render(tw)
	tw.Render()
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
