package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"gorm.io/gorm"
)

func createEmailJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_email_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailJobModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_due ON email_jobs (scheduled_for) WHERE status = 'queued'`,
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_lease ON email_jobs (processing_at) WHERE status = 'processing'`,
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_blast_status ON email_jobs (blast_id, status) WHERE blast_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_recipient ON email_jobs (company_id, recipient_kind, recipient_id, status)`,
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_company_sent ON email_jobs (company_id, sent_at) WHERE status = 'sent'`,
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_rule_recipient ON email_jobs (rule_id, recipient_id, created_at) WHERE rule_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailJobModel{})
		},
	}
}
