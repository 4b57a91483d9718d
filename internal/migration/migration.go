package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	assignmentdomain "github.com/smallbiznis/penwork/internal/assignment/domain"
	auditdomain "github.com/smallbiznis/penwork/internal/audit/domain"
	conversationdomain "github.com/smallbiznis/penwork/internal/conversation/domain"
	paymentdomain "github.com/smallbiznis/penwork/internal/payment/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations/postgres"

//go:embed migrations/postgres/*.sql
var embeddedMigrations embed.FS

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string

// Run brings the configured database to the latest schema. Postgres is
// versioned through golang-migrate, SQLite gets the idempotent schema file
// and MySQL is auto-migrated from the models.
func Run(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres", "postgresql", "pg":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	case "sqlite", "sqlite3":
		return ApplySQLite(conn)
	case "mysql", "mariadb":
		return conn.AutoMigrate(
			&assignmentdomain.Assignment{},
			&assignmentdomain.Transition{},
			&paymentdomain.PaymentOrder{},
			&paymentdomain.PaymentCallback{},
			&conversationdomain.Conversation{},
			&conversationdomain.Participant{},
			&conversationdomain.Message{},
			&auditdomain.AuditLog{},
		)
	default:
		return fmt.Errorf("migrations unsupported for %s", dbType)
	}
}

// ApplySQLite creates any missing tables.
func ApplySQLite(conn *gorm.DB) error {
	if err := conn.Exec(sqliteSchema).Error; err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

func RunMigrations(db *sql.DB) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.
	return nil
}

// Down rolls back the given number of migrations.
func Down(db *sql.DB, steps int) error {
	if steps <= 0 {
		return errors.New("steps must be positive")
	}
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	if err := migrator.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	return nil
}

// Version reports the applied migration version.
func Version(db *sql.DB) (uint, bool, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
