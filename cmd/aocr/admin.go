package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"aocr/internal/app"
	"aocr/internal/config"
	"aocr/internal/server"
)

func roleCmd() *cobra.Command {
	role := &cobra.Command{
		Use:   "role",
		Short: "Manage role grants",
		Long:  "Only an Administrador may grant or revoke roles. On a workspace without any grant the first assignment is allowed so an administrator can be bootstrapped.",
	}

	var target, name string
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Grant a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				grant, err := a.Roles.Assign(ctx, target, name, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), grant)
			})
		},
	}
	assign.Flags().StringVar(&target, "actor", "", "actor receiving the role")
	assign.Flags().StringVar(&name, "role", "", "role name")

	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a role",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Roles.Revoke(ctx, target, name, actor); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", name, target)
				return nil
			})
		},
	}
	revoke.Flags().StringVar(&target, "actor", "", "actor losing the role")
	revoke.Flags().StringVar(&name, "role", "", "role name")

	var filter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List role grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				grants, err := a.Roles.Grants(ctx, filter)
				if err != nil {
					return err
				}
				return printJSONOrTable(cmd.OutOrStdout(), grants, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Actor", "Role", "Granted by", "At"})
					for _, g := range grants {
						tw.AppendRow(table.Row{g.ActorID, g.Role, g.GrantedBy, g.CreatedAt})
					}
				})
			})
		},
	}
	list.Flags().StringVar(&filter, "actor", "", "actor filter")

	role.AddCommand(assign, revoke, list)
	return role
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP API"}

	var target, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				plain, key, err := a.Roles.IssueAPIKey(ctx, target, name, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain,
				})
			})
		},
	}
	create.Flags().StringVar(&target, "actor", "", "key owner (defaults to the actor)")
	create.Flags().StringVar(&name, "name", "", "label")

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Roles.RevokeAPIKey(ctx, args[0], actor)
			})
		},
	}

	keys.AddCommand(create, revoke)
	return keys
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config (aocr.yml)",
		Long:  "aocr.yml holds the request number prefix, the fee schedule per request type, the role catalogue and webhook observers.",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default aocr.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultTemplate), 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate aocr.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}

	cfg.AddCommand(initCmd, show, validate)
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacyActor, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyActor,
				AllowDevLogin:          devLogin,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("AOCR_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Flows:    a.Flows,
					Roles:    a.Roles,
					Metrics:  a.Metrics,
					Logger:   a.Logger,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				a.Logger.Info("serving", zap.String("addr", addr), zap.String("base_path", basePath))
				fmt.Fprintf(cmd.OutOrStdout(), "Serving AOCR API on http://%s%s (OpenAPI at /openapi.json, docs at /docs, metrics at /metrics)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	cmd.Flags().BoolVar(&legacyActor, "allow-legacy-actor", false, "trust X-Actor-Id without credentials (development only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (development only)")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}
