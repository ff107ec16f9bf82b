package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"gorm.io/gorm"
)

const migrationsDir = "sql"

//go:embed sql/*.sql
var embeddedMigrations embed.FS

// Models lists every table the pipeline owns, in dependency order.
func Models() []any {
	return []any{
		&queuedomain.Batch{},
		&queuedomain.QueueItem{},
		&devicedomain.DeviceRecord{},
		&devicedomain.SkuMatchResult{},
		&devicedomain.InspectionRecord{},
		&devicedomain.InventoryRollup{},
		&catalogdomain.MasterSku{},
		&archivedomain.ArchivedRecord{},
		&datalogdomain.Record{},
		&auditdomain.AuditLog{},
	}
}

// Run applies the schema. Postgres gets the versioned SQL files; other
// dialects fall back to AutoMigrate on the gorm models.
func Run(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() != "postgres" {
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB.

	return nil
}
