package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillProfileDisplayNames = "2026-10-01_backfill_profile_display_names"
	migrationNormalizeProfileRoles       = "2026-10-02_normalize_profile_roles"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillProfileDisplayNames, apply: backfillProfileDisplayNames},
		{name: migrationNormalizeProfileRoles, apply: normalizeProfileRoles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillProfileDisplayNames fills empty display names with the email local part.
func backfillProfileDisplayNames(db *gorm.DB) error {
	return db.Model(&profiles.Profile{}).
		Where("(display_name IS NULL OR display_name = '') AND email LIKE ?", "%@%").
		Update("display_name", gorm.Expr("SUBSTR(email, 1, INSTR(email, '@') - 1)")).Error
}

// normalizeProfileRoles resets unknown role values to the plain user role.
func normalizeProfileRoles(db *gorm.DB) error {
	return db.Model(&profiles.Profile{}).
		Where("role NOT IN ?", []string{string(profiles.RoleUser), string(profiles.RoleAdmin)}).
		Update("role", profiles.RoleUser).Error
}
