package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/config"
	"github.com/GalaxyXieyu/Awesome-Langgraph-Learn-sub001/internal/migration"
)

// runMigrate drives the schema migrator against the configured database.
func runMigrate(args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	sub := fs.Args()
	if len(sub) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: reportflowd migrate <up|down|reset|version|force> [options]")
		os.Exit(1)
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	migCfg, err := migrationConfig(cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid database config: %v\n", err)
		os.Exit(1)
	}
	migrator, err := migration.NewMigrator(migCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	ctx := context.Background()
	switch sub[0] {
	case "up":
		err = migrator.Up(ctx)
		if err == nil {
			fmt.Println("Migrations applied")
		}
	case "down":
		err = migrator.Down(ctx)
		if err == nil {
			fmt.Println("Rolled back one migration")
		}
	case "reset":
		err = migrator.DownAll(ctx)
		if err == nil {
			fmt.Println("Rolled back all migrations")
		}
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = migrator.Version(ctx)
		if err == nil {
			fmt.Printf("Version: %d (dirty: %v)\n", version, dirty)
		}
	case "force":
		if len(sub) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: reportflowd migrate force <version>")
			os.Exit(1)
		}
		var v int
		v, err = strconv.Atoi(sub[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid version %q: %v\n", sub[1], err)
			os.Exit(1)
		}
		err = migrator.Force(ctx, v)
		if err == nil {
			fmt.Printf("Forced version to %d\n", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", sub[0])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// migrationConfig maps the service database configuration onto the
// migrator's driver-specific connection URL.
func migrationConfig(db config.DatabaseConfig) (*migration.Config, error) {
	switch db.Driver {
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(db.User, db.Password),
			Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
			Path:   "/" + db.Name,
		}
		q := u.Query()
		if db.SSLMode != "" {
			q.Set("sslmode", db.SSLMode)
		}
		u.RawQuery = q.Encode()
		return &migration.Config{
			DatabaseType: migration.DatabaseTypePostgres,
			DatabaseURL:  u.String(),
		}, nil
	case "mysql":
		// multiStatements lets a single migration file carry several
		// statements.
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?multiStatements=true",
			db.User, db.Password, db.Host, db.Port, db.Name)
		return &migration.Config{
			DatabaseType: migration.DatabaseTypeMySQL,
			DatabaseURL:  dsn,
		}, nil
	case "sqlite":
		return &migration.Config{
			DatabaseType: migration.DatabaseTypeSQLite,
			DatabaseURL:  db.Name,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %q", db.Driver)
	}
}
