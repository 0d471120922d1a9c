package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/schooldesk/schooldesk-backend/pkg/config"
	"github.com/schooldesk/schooldesk-backend/pkg/db"
	"github.com/schooldesk/schooldesk-backend/pkg/logger"
	"github.com/schooldesk/schooldesk-backend/pkg/migrate"
)

type cli struct {
	cmd     string
	dir     string
	name    string
	version string
}

func parseFlags() cli {
	var c cli
	flag.StringVar(&c.cmd, "cmd", "up", "migration command: up|down|status|version|create|validate")
	flag.StringVar(&c.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&c.name, "name", "", "migration name (for create)")
	flag.StringVar(&c.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()
	return c
}

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	args := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "loading config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env": cfg.App.Env,
		"cmd": args.cmd,
		"dir": args.dir,
	})

	// create and validate work on the filesystem alone.
	switch args.cmd {
	case "create":
		if args.name == "" {
			fail("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(args.dir, args.name)
		if err != nil {
			fail(fmt.Sprintf("failed to create migration: %v", err))
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(args.dir); err != nil {
			fail(fmt.Sprintf("migration validation failed: %v", err))
		}
		fmt.Println("migration validation passed")
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "connecting to database", err)
		os.Exit(1)
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "extracting sql.DB", err)
		os.Exit(1)
	}

	logg.Info(ctx, "migrate ready")

	switch args.cmd {
	case "up", "down", "status":
		if err := migrate.Run(ctx, sqlDB, args.dir, args.cmd); err != nil {
			fail(fmt.Sprintf("goose %s failed: %v", args.cmd, err))
		}
	case "version":
		if args.version == "" {
			fail("missing -version for version command")
		}
		if err := migrate.MigrateToVersion(ctx, sqlDB, args.dir, args.version); err != nil {
			fail(fmt.Sprintf("goose version migrate failed: %v", err))
		}
	default:
		fail("unknown -cmd value: " + args.cmd)
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
