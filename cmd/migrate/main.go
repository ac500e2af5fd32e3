package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	var dbDSN = flag.String("db-dsn", os.Getenv("SENDFORGE_DB_DSN"), "Database DSN")
	var migrationsPath = flag.String("migrations-path", "file://migrations", "Path to migrations directory")
	flag.Parse()

	if *dbDSN == "" {
		log.Fatal("SENDFORGE_DB_DSN environment variable or -db-dsn flag is required")
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]

	db, err := sql.Open("postgres", *dbDSN)
	if err != nil {
		log.Fatal("Cannot connect to database:", err)
	}
	defer func(db *sql.DB) {
		_ = db.Close()
	}(db)

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("Cannot create database driver:", err)
	}

	m, err := migrate.NewWithDatabaseInstance(*migrationsPath, "postgres", driver)
	if err != nil {
		log.Fatal("Cannot create migrator:", err)
	}

	switch command {
	case "up":
		// Ensure sendforge_app role exists before running migrations (for RLS support)
		if err := ensureAppRole(db); err != nil {
			log.Fatal("Failed to ensure sendforge_app role:", err)
		}
		// Ensure sendforge_admin exists for the background jobs (worker/replay/sweeper)
		// that must read and write across tenants, bypassing the RLS policies
		// migration 000002 enables on the sendforge_app role.
		if err := ensureAdminRole(db); err != nil {
			log.Fatal("Failed to ensure sendforge_admin role:", err)
		}

		err = m.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("Migration up failed:", err)
		}
		fmt.Println("migrations applied successfully")
	case "down":
		steps := 1
		if len(args) > 1 {
			_, _ = fmt.Sscanf(args[1], "%d", &steps)
		}
		err = m.Steps(-steps)
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("Migration down failed:", err)
		}
		fmt.Printf("migrations rolled back %d steps\n", steps)
	case "goto":
		if len(args) < 2 {
			log.Fatal("goto requires a version number")
		}
		var version uint
		_, err := fmt.Sscanf(args[1], "%d", &version)
		if err != nil {
			log.Fatal("Invalid version number:", err)
		}
		err = m.Migrate(version)
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("Migration goto failed:", err)
		}
		fmt.Printf("Migrated to version %d\n", version)
	case "force":
		if len(args) < 2 {
			log.Fatal("force requires a version number")
		}
		var version int
		_, err := fmt.Sscanf(args[1], "%d", &version)
		if err != nil {
			log.Fatal("Invalid version number:", err)
		}
		err = m.Force(version)
		if err != nil {
			log.Fatal("Force version failed:", err)
		}
		fmt.Printf("Forced version to %d (no migrations executed)\n", version)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("Cannot get version:", err)
		}
		fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)
	case "drop":
		err = m.Drop()
		if err != nil {
			log.Fatal("Drop failed:", err)
		}
		fmt.Println("All migrations dropped")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: migrate [options] <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up           Apply all migrations")
	fmt.Println("  down [n]     Rollback n migrations (default: 1)")
	fmt.Println("  goto <v>     Migrate to specific version (up or down)")
	fmt.Println("  force <v>    Force version without running migrations (for existing DBs)")
	fmt.Println("  version      Show current migration version")
	fmt.Println("  drop         Drop all migrations (DANGER)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -db-dsn string         Database DSN (or SENDFORGE_DB_DSN env var)")
	fmt.Println("  -migrations-path string Path to migrations (default: file://migrations)")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SENDFORGE_APP_PASSWORD    Password for the sendforge_app role (required for RLS)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  migrate up")
	fmt.Println("  migrate down 2")
	fmt.Println("  migrate goto 5")
	fmt.Println("  migrate force 1        # For existing DB already at the initial schema")
	fmt.Println("  migrate version")
}

// ensureAppRole creates or updates the sendforge_app role used for RLS.
// The password is read from SENDFORGE_APP_PASSWORD environment variable.
// If not set, the function logs a warning and continues (for backward compatibility).
// If set, the role is created (or password updated) before migrations run.
func ensureAppRole(db *sql.DB) error {
	password := strings.TrimSpace(os.Getenv("SENDFORGE_APP_PASSWORD"))
	if password == "" {
		log.Println("WARNING: SENDFORGE_APP_PASSWORD not set. sendforge_app role will not be created.")
		log.Println("         RLS migrations will fail if the role doesn't exist.")
		log.Println("         Set SENDFORGE_APP_PASSWORD to enable RLS support.")
		return nil
	}

	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = 'sendforge_app')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if sendforge_app role exists: %w", err)
	}

	if exists {
		_, err = db.Exec(fmt.Sprintf("ALTER ROLE sendforge_app WITH PASSWORD '%s'", escapePassword(password)))
		if err != nil {
			return fmt.Errorf("failed to update sendforge_app password: %w", err)
		}
		log.Println("sendforge_app role exists, password updated")
	} else {
		createSQL := fmt.Sprintf(`
			CREATE ROLE sendforge_app WITH
				LOGIN
				PASSWORD '%s'
				NOCREATEDB
				NOCREATEROLE
				NOINHERIT
				NOREPLICATION
				CONNECTION LIMIT -1
		`, escapePassword(password))

		_, err = db.Exec(createSQL)
		if err != nil {
			return fmt.Errorf("failed to create sendforge_app role: %w", err)
		}
		log.Println("sendforge_app role created successfully")
	}

	// Grant CONNECT on database (idempotent)
	var dbName string
	err = db.QueryRow("SELECT current_database()").Scan(&dbName)
	if err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	_, err = db.Exec(fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO sendforge_app", quoteIdentifier(dbName)))
	if err != nil {
		return fmt.Errorf("failed to grant CONNECT to sendforge_app: %w", err)
	}

	// Grant USAGE on public schema (idempotent)
	_, err = db.Exec("GRANT USAGE ON SCHEMA public TO sendforge_app")
	if err != nil {
		return fmt.Errorf("failed to grant USAGE on public schema: %w", err)
	}

	return nil
}

// ensureAdminRole creates or updates the sendforge_admin role used by
// cmd/worker, cmd/replay and cmd/sweeper: it needs BYPASSRLS since those
// entrypoints operate across tenants (or on a single tenant outside any
// HTTP request's RLS transaction) by explicit company id parameter rather
// than an ambient app.company_id session setting. Mirrors ensureAppRole,
// reading its password from SENDFORGE_ADMIN_PASSWORD.
func ensureAdminRole(db *sql.DB) error {
	password := strings.TrimSpace(os.Getenv("SENDFORGE_ADMIN_PASSWORD"))
	if password == "" {
		log.Println("WARNING: SENDFORGE_ADMIN_PASSWORD not set. sendforge_admin role will not be created.")
		log.Println("         cmd/worker, cmd/replay and cmd/sweeper need SENDFORGE_DB_ADMIN_DSN to authenticate as this role.")
		return nil
	}

	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = 'sendforge_admin')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check if sendforge_admin role exists: %w", err)
	}

	if exists {
		_, err = db.Exec(fmt.Sprintf("ALTER ROLE sendforge_admin WITH PASSWORD '%s'", escapePassword(password)))
		if err != nil {
			return fmt.Errorf("failed to update sendforge_admin password: %w", err)
		}
		log.Println("sendforge_admin role exists, password updated")
	} else {
		createSQL := fmt.Sprintf(`
			CREATE ROLE sendforge_admin WITH
				LOGIN
				PASSWORD '%s'
				BYPASSRLS
				NOCREATEDB
				NOCREATEROLE
				NOINHERIT
				NOREPLICATION
				CONNECTION LIMIT -1
		`, escapePassword(password))

		_, err = db.Exec(createSQL)
		if err != nil {
			return fmt.Errorf("failed to create sendforge_admin role: %w", err)
		}
		log.Println("sendforge_admin role created successfully")
	}

	var dbName string
	err = db.QueryRow("SELECT current_database()").Scan(&dbName)
	if err != nil {
		return fmt.Errorf("failed to get current database name: %w", err)
	}

	_, err = db.Exec(fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO sendforge_admin", quoteIdentifier(dbName)))
	if err != nil {
		return fmt.Errorf("failed to grant CONNECT to sendforge_admin: %w", err)
	}
	_, err = db.Exec("GRANT USAGE ON SCHEMA public TO sendforge_admin")
	if err != nil {
		return fmt.Errorf("failed to grant USAGE on public schema: %w", err)
	}

	return nil
}

// escapePassword escapes single quotes in password for SQL
func escapePassword(password string) string {
	return strings.ReplaceAll(password, "'", "''")
}

// quoteIdentifier quotes a PostgreSQL identifier (table name, database name, etc.)
// to safely handle names containing special characters like hyphens.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
