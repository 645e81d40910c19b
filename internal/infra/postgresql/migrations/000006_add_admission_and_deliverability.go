package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addAdmissionAndDeliverability() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000006_add_admission_and_deliverability",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE email_jobs ADD COLUMN IF NOT EXISTS admitted_at timestamptz`,
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_company_admitted ON email_jobs (company_id) WHERE status = 'processing' AND admitted_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_email_jobs_company_failed ON email_jobs (company_id, last_error, updated_at) WHERE status = 'failed'`,
				`ALTER TABLE email_settings ADD COLUMN IF NOT EXISTS sending_paused boolean NOT NULL DEFAULT false`,
				`ALTER TABLE email_settings ADD COLUMN IF NOT EXISTS sending_paused_at timestamptz`,
				`ALTER TABLE email_settings ADD COLUMN IF NOT EXISTS sending_paused_by varchar(32)`,
				`ALTER TABLE email_settings ADD COLUMN IF NOT EXISTS sending_paused_reason varchar(64)`,
				`ALTER TABLE email_settings ADD COLUMN IF NOT EXISTS bounce_rate_threshold double precision NOT NULL DEFAULT 0`,
				`ALTER TABLE email_settings ADD COLUMN IF NOT EXISTS bounce_min_sent bigint NOT NULL DEFAULT 0`,
				`ALTER TABLE email_settings ADD COLUMN IF NOT EXISTS warmup jsonb`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_email_jobs_company_failed`,
				`DROP INDEX IF EXISTS idx_email_jobs_company_admitted`,
				`ALTER TABLE email_jobs DROP COLUMN IF EXISTS admitted_at`,
				`ALTER TABLE email_settings DROP COLUMN IF EXISTS warmup`,
				`ALTER TABLE email_settings DROP COLUMN IF EXISTS bounce_min_sent`,
				`ALTER TABLE email_settings DROP COLUMN IF EXISTS bounce_rate_threshold`,
				`ALTER TABLE email_settings DROP COLUMN IF EXISTS sending_paused_reason`,
				`ALTER TABLE email_settings DROP COLUMN IF EXISTS sending_paused_by`,
				`ALTER TABLE email_settings DROP COLUMN IF EXISTS sending_paused_at`,
				`ALTER TABLE email_settings DROP COLUMN IF EXISTS sending_paused`,
			})
		},
	}
}
