package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/fieldhand/internal/credentials"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationRenameLegacyTokenKeys = "2026-10-01_rename_legacy_token_keys"

// Early builds stored the tokens under their wire names.
var legacyTokenKeys = map[string]string{
	"access_token":  credentials.KeyAccessToken,
	"refresh_token": credentials.KeyRefreshToken,
}

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
		{name: migrationRenameLegacyTokenKeys, apply: renameLegacyTokenKeys},
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

// renameLegacyTokenKeys moves legacy rows to the current key names. A row
// already stored under the current name wins over its legacy twin.
func renameLegacyTokenKeys(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for legacy, current := range legacyTokenKeys {
			var existing int64
			if err := tx.Model(&credentials.Entry{}).Where("name = ?", current).Count(&existing).Error; err != nil {
				return err
			}
			if existing == 0 {
				if err := tx.Model(&credentials.Entry{}).Where("name = ?", legacy).Update("name", current).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Where("name = ?", legacy).Delete(&credentials.Entry{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
