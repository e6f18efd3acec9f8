package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"groupwatch/internal/config"
	"groupwatch/migrations"
)

const usage = `Usage: migrate [-db path] <command>

Commands:
  up          Migrate to the latest version
  down        Roll back one version
  status      Show migration status
  version     Show current version`

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	dbPath := flag.String("db", cfg.DatabasePath, "path to sqlite database")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := migrate(*dbPath, flag.Arg(0), log); err != nil {
		log.Error("migrate", "command", flag.Arg(0), "db", *dbPath, "error", err)
		os.Exit(1)
	}
}

func migrate(path, cmd string, log *slog.Logger) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if cmd == "up" {
		version, err := migrations.Run(db)
		if err != nil {
			return err
		}
		log.Info("schema up to date", "version", version)
		return nil
	}

	if err := migrations.Setup(); err != nil {
		return err
	}
	switch cmd {
	case "down":
		return goose.Down(db, ".")
	case "status":
		return goose.Status(db, ".")
	case "version":
		return goose.Version(db, ".")
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
