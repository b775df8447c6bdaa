package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRemoveArchiveMainPhotoDuplicates = "2026-06-01_remove_archive_main_photo_duplicates"
	migrationLowercaseUserEmails              = "2026-06-02_lowercase_user_emails"
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
		{name: migrationRemoveArchiveMainPhotoDuplicates, apply: removeArchiveMainPhotoDuplicates},
		{name: migrationLowercaseUserEmails, apply: lowercaseUserEmails},
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

// Older uploads appended the main photo to the archive as well; the main photo now lives only
// on the memory row.
func removeArchiveMainPhotoDuplicates(db *gorm.DB) error {
	return db.Exec(`DELETE FROM memory_archive_photos
WHERE EXISTS (
	SELECT 1 FROM memories
	WHERE memories.id = memory_archive_photos.memory_id
	AND memories.main_photo <> ''
	AND memories.main_photo = memory_archive_photos.photo
)`).Error
}

// Addresses are matched lower-cased; rows whose lower-cased form already exists are left alone.
func lowercaseUserEmails(db *gorm.DB) error {
	return db.Exec(`UPDATE users SET email = lower(email)
WHERE email <> lower(email)
AND lower(email) NOT IN (SELECT email FROM users)`).Error
}
