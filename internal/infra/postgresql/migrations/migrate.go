package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_bounce_records",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.BounceRecordModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_bounce_records_status_occurred ON bounce_records (status, occurred_at)`,
					`CREATE INDEX IF NOT EXISTS idx_bounce_records_domain ON bounce_records (domain)`,
					`CREATE INDEX IF NOT EXISTS idx_bounce_records_occurred_at ON bounce_records (occurred_at DESC)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.BounceRecordModel{})
			},
		},
		{
			ID: "000002_create_retry_tasks",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.RetryTaskModel{}); err != nil {
					return err
				}
				indexes := []string{
					`ALTER TABLE retry_tasks ADD CONSTRAINT fk_retry_tasks_bounce_record FOREIGN KEY (bounce_record_id) REFERENCES bounce_records (id)`,
					`CREATE INDEX IF NOT EXISTS idx_retry_tasks_pending ON retry_tasks (created_at) WHERE attempts < max_attempts`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.RetryTaskModel{})
			},
		},
	})

	return m.Migrate()
}
