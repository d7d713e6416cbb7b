package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/phigate/phigate/internal/config"
	"github.com/phigate/phigate/internal/domain/profile"
	"github.com/phigate/phigate/internal/platform/db"
	"github.com/phigate/phigate/internal/platform/deid"
	"github.com/phigate/phigate/internal/platform/hipaa"
	"github.com/phigate/phigate/internal/platform/recognizer"
	"github.com/phigate/phigate/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "phigate-server",
		Short:        "PHI de-identification and release gate",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(deidentifyCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the configured profile store",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, _ := cmd.Flags().GetInt("to")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			fmt.Printf("Running %s migrations\n", cfg.ProfileStore)
			var count int
			if target > 0 {
				count, err = store.migrator().UpTo(ctx, target)
			} else {
				count, err = store.migrator().Up(ctx)
			}
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies all)")
	cmd.AddCommand(upCmd)

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			statuses, err := store.migrator().Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for %s store\n", cfg.ProfileStore)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Manage the release audit trail",
	}

	// audit purge
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete release events older than AUDIT_RETENTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			store, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			retention, err := hipaa.NewRetentionService(store.releases(), cfg.AuditRetention, logger)
			if err != nil {
				return err
			}
			n, err := retention.Purge(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Purged %d release event(s) recorded before %s.\n", n, retention.Cutoff().Format("2006-01-02"))
			return nil
		},
	})

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// database is the opened profile store: exactly one of pool and sql is set.
type database struct {
	pool *pgxpool.Pool
	sql  *sql.DB
}

// releaseStore persists release events, reads them back and purges them.
type releaseStore interface {
	hipaa.AuditSink
	hipaa.ReleaseLister
	hipaa.ReleasePurger
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database, error) {
	switch cfg.ProfileStore {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &database{pool: pool}, nil
	case config.StoreSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &database{sql: sqlDB}, nil
	}
	return nil, fmt.Errorf("unknown profile store %q", cfg.ProfileStore)
}

func (d *database) migrator() *db.Migrator {
	if d.pool != nil {
		return db.NewMigrator(d.pool, migrations.Postgres())
	}
	return db.NewSQLiteMigrator(d.sql, migrations.SQLite())
}

func (d *database) profiles(enc *hipaa.EncryptionService) profile.Repository {
	if d.pool != nil {
		return profile.NewRepoPG(d.pool, enc)
	}
	return profile.NewRepoSQLite(d.sql, enc)
}

func (d *database) releases() releaseStore {
	if d.pool != nil {
		return hipaa.NewPGAuditSink(d.pool)
	}
	return hipaa.NewSQLAuditSink(d.sql)
}

func (d *database) healthChecks() []db.HealthCheck {
	if d.pool != nil {
		return []db.HealthCheck{db.PoolCheck(d.pool)}
	}
	return []db.HealthCheck{db.SQLCheck("sqlite", d.sql)}
}

func (d *database) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
	if d.sql != nil {
		_ = d.sql.Close()
	}
}

// newRecognizer builds the entity recognizer. Pattern-only operation has to
// be chosen with RECOGNIZER=none and is refused outside development; a
// missing RECOGNIZER_URL is an error, never a silent downgrade.
func newRecognizer(cfg *config.Config, logger zerolog.Logger) (deid.Recognizer, error) {
	if err := cfg.CheckRecognizer(); err != nil {
		return nil, err
	}
	if cfg.Recognizer == config.RecognizerNone {
		logger.Warn().Msg("RECOGNIZER=none: names and locations will not be detected")
		return recognizer.Noop{}, nil
	}
	unit, err := cfg.OffsetUnit()
	if err != nil {
		return nil, fmt.Errorf("RECOGNIZER_OFFSET_UNIT: %w", err)
	}
	sidecar := recognizer.NewSidecar(recognizer.SidecarConfig{
		BaseURL:    cfg.RecognizerURL,
		Timeout:    cfg.RecognizerTimeout,
		OffsetUnit: unit,
	}, logger)
	return recognizer.NewCached(sidecar, cfg.RecognizerCacheSize), nil
}

func newWalker(cfg *config.Config, r deid.Recognizer) (*deid.Walker, error) {
	policy, err := cfg.OverlapPolicy()
	if err != nil {
		return nil, fmt.Errorf("DEID_OVERLAP_POLICY: %w", err)
	}
	pipeline, err := deid.NewPipeline(r, deid.WithOverlapPolicy(policy))
	if err != nil {
		return nil, err
	}
	return deid.NewWalker(pipeline, deid.WithConcurrency(cfg.DeidConcurrency)), nil
}
