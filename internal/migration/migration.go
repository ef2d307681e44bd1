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
	auditdomain "github.com/smallbiznis/uplink/internal/audit/domain"
	commissiondomain "github.com/smallbiznis/uplink/internal/commission/domain"
	"github.com/smallbiznis/uplink/internal/events"
	ledgerdomain "github.com/smallbiznis/uplink/internal/ledger/domain"
	networkdomain "github.com/smallbiznis/uplink/internal/network/domain"
	qualificationdomain "github.com/smallbiznis/uplink/internal/qualification/domain"
	rewarddomain "github.com/smallbiznis/uplink/internal/reward/domain"
	volumedomain "github.com/smallbiznis/uplink/internal/volume/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// Models lists every table of the engine schema, in dependency order.
func Models() []any {
	return []any{
		&networkdomain.Member{},
		&networkdomain.TierHistory{},
		&volumedomain.TeamVolume{},
		&commissiondomain.Transaction{},
		&commissiondomain.Commission{},
		&commissiondomain.MemberBalance{},
		&qualificationdomain.State{},
		&qualificationdomain.TierProgress{},
		&rewarddomain.Allocation{},
		&rewarddomain.Inventory{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
		&auditdomain.AuditLog{},
		&events.OutboxEvent{},
	}
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

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

// Version reports the applied schema version.
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

// AutoMigrate creates the schema from the gorm models. It serves the
// mysql and sqlite dialects, which the embedded SQL does not target.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
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
