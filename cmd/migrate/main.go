package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/elskow/folio-auth/internal/migration"
	"github.com/elskow/folio-auth/internal/server"
)

func main() {
	command := flag.String("command", "up", "migration command (up/down/down-to/status/version/reset)")
	target := flag.Int64("to", 0, "target version for down-to")
	confirm := flag.Bool("yes", false, "confirm destructive commands (reset, down-to)")
	flag.Parse()

	if os.Getenv("APP_ENV") == "" {
		os.Setenv("APP_ENV", "development")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load config
	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	migrator, err := migration.NewMigrator(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	log.Printf("Using %s database, migrations from %s", driverName(cfg.Database.Driver), migrator.Dir())

	switch *command {
	case "up":
		applied, err := migrator.Up(ctx)
		if err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Printf("Applied %d migration(s)", len(applied))

	case "down":
		version, err := migrator.Down(ctx)
		if err != nil {
			log.Fatalf("Failed to rollback migrations: %v", err)
		}
		if version == 0 {
			log.Println("Nothing to roll back")
			return
		}
		log.Printf("Rolled back version %d", version)

	case "down-to":
		requireConfirm(*confirm, *command)
		if err := migrator.DownTo(ctx, *target); err != nil {
			log.Fatalf("Failed to roll back: %v", err)
		}
		log.Printf("Rolled back to version %d", *target)

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
		for _, s := range statuses {
			applied := "pending"
			if s.Applied {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", s.Version, s.Name, applied)
		}
		_ = w.Flush()

	case "version":
		version, err := migrator.CurrentVersion(ctx)
		if err != nil {
			log.Fatalf("Failed to get migration version: %v", err)
		}
		log.Printf("Current migration version: %d (latest %d)", version, migrator.LatestVersion())

	case "reset":
		requireConfirm(*confirm, *command)
		if err := migrator.Reset(ctx); err != nil {
			log.Fatalf("Failed to reset migrations: %v", err)
		}
		log.Println("Successfully reset migrations")

	default:
		log.Fatalf("Unknown command: %s", *command)
	}
}

// requireConfirm guards commands that drop auth tables.
func requireConfirm(confirmed bool, command string) {
	if !confirmed {
		log.Fatalf("%s deletes accounts; rerun with -yes", command)
	}
}

func driverName(driver string) string {
	if driver == "" {
		return "sqlite"
	}
	return driver
}
