package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"gorm.io/gorm"
)

func createRecipientTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_recipients",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RecipientModel{}, &repository.SuppressionModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_email_recipients_company_kind_status ON email_recipients (company_id, kind, status)`,
				`CREATE INDEX IF NOT EXISTS idx_email_recipients_schedule ON email_recipients (schedule_id) WHERE schedule_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SuppressionModel{}, &repository.RecipientModel{})
		},
	}
}
