package repository

import "gorm.io/gorm"

func NewGormRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Jobs:         NewGormJobRepo(db),
		Blasts:       NewGormBlastRepo(db),
		Recipients:   NewGormRecipientRepo(db),
		Suppressions: NewGormSuppressionRepo(db),
		Automation:   NewGormAutomationRepo(db),
		Settings:     NewGormSettingsRepo(db),
	}
}
