package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"gorm.io/gorm"
)

func createEmailBlastsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_email_blasts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BlastModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_email_blasts_request_id ON email_blasts (company_id, request_id) WHERE request_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_email_blasts_company_created ON email_blasts (company_id, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_email_blasts_status ON email_blasts (status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BlastModel{})
		},
	}
}
