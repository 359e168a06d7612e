package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Ramsey-B/sage/config"
)

// Connect opens the postgres pool described by cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
	)

	var db *sqlx.DB
	var err error
	for attempt := 1; attempt <= cfg.DatabaseReconnectRetryCount; attempt++ {
		db, err = sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
		if err == nil {
			break
		}
		logger.WithContext(ctx).WithError(err).Warnf("database connect attempt %d/%d failed", attempt, cfg.DatabaseReconnectRetryCount)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	return NewDatabaseInstance(db, logger), nil
}

// RunMigrations applies the migration folder against the connected database.
func RunMigrations(cfg *config.Config, logger ectologger.Logger, db DB) error {
	driver, err := migratepg.WithInstance(db.Unsafe().DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	ms := NewMigrationService(logger, &MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})

	return ms.Migrate(cfg.DatabaseName, driver)
}

// StartupDep adapts the database pool to the startup dependency lifecycle.
type StartupDep struct {
	cfg    *config.Config
	logger ectologger.Logger
	db     DB
	onOpen func(DB)
}

func NewStartupDep(cfg *config.Config, logger ectologger.Logger, onOpen func(DB)) *StartupDep {
	return &StartupDep{cfg: cfg, logger: logger, onOpen: onOpen}
}

func (d *StartupDep) GetName() string {
	return "database"
}

func (d *StartupDep) DependsOn() []string {
	return nil
}

func (d *StartupDep) Start(ctx context.Context) error {
	db, err := Connect(ctx, d.cfg, d.logger)
	if err != nil {
		return err
	}
	if err := RunMigrations(d.cfg, d.logger, db); err != nil {
		return err
	}
	d.db = db
	if d.onOpen != nil {
		d.onOpen(db)
	}
	return nil
}

func (d *StartupDep) Stop(ctx context.Context) error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}
