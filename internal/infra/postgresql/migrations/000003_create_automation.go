package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/zlammie/keepup-mailer/internal/repository"
	"gorm.io/gorm"
)

func createAutomationTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_automation",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.AutomationRuleModel{}, &repository.FollowUpScheduleModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_automation_rules_company_enabled ON automation_rules (company_id, enabled)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.FollowUpScheduleModel{}, &repository.AutomationRuleModel{})
		},
	}
}
