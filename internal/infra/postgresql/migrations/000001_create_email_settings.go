package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"gorm.io/gorm"
)

func createEmailSettingsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_email_settings",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.EmailSettingsModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailSettingsModel{})
		},
	}
}
