package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"lti-booking/pkg/logger"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// migrationLockKey serialises schema changes across replicas started with
// --migrate at the same time.
const migrationLockKey = 0x6c7469626f6f6b

// ErrMigrationChanged means an applied migration file was edited afterwards.
var ErrMigrationChanged = errors.New("applied migration was modified")

// SchemaChange is one numbered SQL file under the migrations directory.
type SchemaChange struct {
	Version   string
	Name      string
	SQL       string
	Checksum  string
	AppliedAt *time.Time
}

type appliedChange struct {
	Version   string    `gorm:"column:id"`
	Checksum  string    `gorm:"column:checksum"`
	AppliedAt time.Time `gorm:"column:applied_at"`
}

// Migrator applies the booking store's schema changes in version order,
// each in its own transaction together with its schema_migrations row.
type Migrator struct {
	db  *gorm.DB
	dir string
}

func NewMigrator(db *gorm.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// Load reads the change files in version order. Files that do not end in
// .sql are ignored.
func (m *Migrator) Load() ([]SchemaChange, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", m.dir, err)
	}

	var changes []SchemaChange
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		change, err := parseChange(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[change.Version]; dup {
			return nil, fmt.Errorf("migration version %s used by %s and %s", change.Version, prev, entry.Name())
		}
		seen[change.Version] = entry.Name()

		body, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		change.SQL = string(body)
		sum := sha256.Sum256(body)
		change.Checksum = hex.EncodeToString(sum[:])
		changes = append(changes, change)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Version < changes[j].Version })
	return changes, nil
}

// parseChange splits "0002_create_slots_and_reservations.sql" into a numeric
// version and a readable name.
func parseChange(filename string) (SchemaChange, error) {
	version, rest, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || version == "" || rest == "" || strings.Trim(version, "0123456789") != "" {
		return SchemaChange{}, fmt.Errorf("migration %q must be named <number>_<name>.sql", filename)
	}
	return SchemaChange{Version: version, Name: strings.ReplaceAll(rest, "_", " ")}, nil
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	return m.db.WithContext(ctx).Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id VARCHAR(255) PRIMARY KEY,
		description TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT '';`).Error
}

func (m *Migrator) applied(ctx context.Context, db *gorm.DB) (map[string]appliedChange, error) {
	var rows []appliedChange
	if err := db.WithContext(ctx).Raw("SELECT id, checksum, applied_at FROM schema_migrations").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	out := make(map[string]appliedChange, len(rows))
	for _, r := range rows {
		out[r.Version] = r
	}
	return out, nil
}

// Up applies every pending change and returns how many ran. An applied
// change whose file no longer matches its recorded checksum stops the run.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	changes, err := m.Load()
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, change := range changes {
		fields := logrus.Fields{"version": change.Version, "name": change.Name}

		applied := false
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error; err != nil {
				return fmt.Errorf("lock schema: %w", err)
			}
			done, err := m.applied(ctx, tx)
			if err != nil {
				return err
			}
			if prev, ok := done[change.Version]; ok {
				if prev.Checksum != "" && prev.Checksum != change.Checksum {
					return fmt.Errorf("%w: %s %s", ErrMigrationChanged, change.Version, change.Name)
				}
				return nil
			}

			if err := tx.Exec(change.SQL).Error; err != nil {
				return fmt.Errorf("apply migration %s: %w", change.Version, err)
			}
			if err := tx.Exec("INSERT INTO schema_migrations (id, description, checksum) VALUES (?, ?, ?)",
				change.Version, change.Name, change.Checksum).Error; err != nil {
				return fmt.Errorf("record migration %s: %w", change.Version, err)
			}
			applied = true
			return nil
		})
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("schema migration failed")
			return ran, err
		}
		if applied {
			logger.WithFields(fields).Info("applied schema migration")
			ran++
		}
	}
	return ran, nil
}

// Status lists every change with its applied time, nil when pending.
func (m *Migrator) Status(ctx context.Context) ([]SchemaChange, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	changes, err := m.Load()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, m.db)
	if err != nil {
		return nil, err
	}
	for i := range changes {
		if prev, ok := done[changes[i].Version]; ok {
			at := prev.AppliedAt
			changes[i].AppliedAt = &at
		}
	}
	return changes, nil
}
