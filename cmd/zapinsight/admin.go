package main

import (
	"context"
	"fmt"
	"time"

	"github.com/naperu/zapinsight/internal/app"
	"github.com/naperu/zapinsight/internal/mcptools"
	"github.com/naperu/zapinsight/internal/service"
	"github.com/naperu/zapinsight/pkg/cache"
	"github.com/naperu/zapinsight/pkg/config"
	"github.com/naperu/zapinsight/pkg/database"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var scope string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for the HTTP trigger surface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if scope != service.ScopeTrigger && scope != service.ScopeRead {
				return fmt.Errorf("scope must be %q or %q", service.ScopeTrigger, service.ScopeRead)
			}
			signed, err := service.NewTokenService(config.Load().JWTSecret).Issue(args[0], scope, ttl)
			if err != nil {
				return err
			}
			fprintf(cmd.OutOrStdout(), "%s\n", signed)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", service.ScopeTrigger, "trigger or read")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime, 0 for no expiry")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Connect(config.Load().DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(db); err != nil {
				return err
			}
			fprintf(cmd.OutOrStdout(), "applied %d migrations\n", len(database.Migrations))
			return nil
		},
	}
}

func newCacheFlushCmd() *cobra.Command {
	var what string
	cmd := &cobra.Command{
		Use:   "cache-flush",
		Short: "Drop cached gateway profiles and insights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var pattern string
			switch what {
			case "all":
				pattern = cache.KeyPrefix + "*"
			case "profiles":
				pattern = cache.ProfileKey("*")
			case "insights":
				pattern = cache.InsightKey("*")
			default:
				return fmt.Errorf("unknown cache %q (all, profiles, insights)", what)
			}

			c, err := cache.New(config.Load().RedisURL)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer c.Close()

			ctx, cancel := signalContext(cmd)
			defer cancel()
			if err := c.DelPattern(ctx, pattern); err != nil {
				return err
			}
			fprintf(cmd.OutOrStdout(), "flushed %s\n", pattern)
			return nil
		},
	}
	cmd.Flags().StringVar(&what, "only", "all", "all, profiles or insights")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline tools over MCP stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(_ context.Context, a *app.App) error {
				return mcptools.Serve(a.Services, version)
			})
		},
	}
}
