package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/fortify-rocks/fix-agent/internal/bootstrap"
	"github.com/fortify-rocks/fix-agent/internal/devseed"
)

type dbSeedOptions struct {
	Timeout    time.Duration
	TenantID   string
	WebhookID  string
	Repository string
	Token      string
}

func parseDBSeedFlags(args []string) (dbSeedOptions, error) {
	fs := flag.NewFlagSet("db-seed", flag.ContinueOnError)
	opts := dbSeedOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "seed timeout")
	fs.StringVar(&opts.TenantID, "tenant", devseed.DefaultTenantID, "tenant id to seed")
	fs.StringVar(&opts.WebhookID, "webhook", devseed.DefaultWebhookID, "webhook id to map to the tenant")
	fs.StringVar(&opts.Repository, "repo", devseed.DefaultRepository, "repository full name for the mapping")
	fs.StringVar(&opts.Token, "token", "", "GitHub token to store (defaults to GITHUB_TOKEN)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func runDBSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseDBSeedFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	if err := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); err != nil {
		return err
	}

	return devseed.Seed(ctx, db, devseed.Options{
		TenantID:   opts.TenantID,
		WebhookID:  opts.WebhookID,
		Repository: opts.Repository,
		Token:      opts.Token,
		Logger:     cmdCtx.Logger,
	})
}
