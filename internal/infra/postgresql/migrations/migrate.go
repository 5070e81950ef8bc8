package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/queueme/notification-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_notifications_recipient_created ON notifications (recipient_id, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_status_created ON notifications (status, created_at)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_idempotency_key ON notifications (idempotency_key) WHERE idempotency_key IS NOT NULL`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_scheduled ON notifications (scheduled_at) WHERE status = 'SCHEDULED'`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_correlation_id ON notifications (correlation_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000002_create_deliveries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_deliveries_notification_id ON deliveries (notification_id)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON deliveries (next_retry_at) WHERE state = 'PENDING'`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_recipient_channel ON deliveries (recipient_id, channel, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryModel{})
			},
		},
		{
			ID: "000003_create_dead_letters",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeadLetterModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_dead_letters_created ON dead_letters (created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_dead_letters_channel_created ON dead_letters (channel, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeadLetterModel{})
			},
		},
		{
			ID: "000004_create_recipients",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.RecipientModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.RecipientModel{})
			},
		},
		{
			// Idempotency keys dedupe within a rolling window, not forever.
			// Scoping uniqueness to the UTC day lets a key be reused once the
			// window has passed instead of colliding with a stale row.
			ID: "000005_scope_idempotency_key_by_day",
			Migrate: func(tx *gorm.DB) error {
				statements := []string{
					`DROP INDEX IF EXISTS idx_notifications_idempotency_key`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_idempotency_key_daily
						ON notifications (idempotency_key, date_trunc('day', timezone('UTC', created_at)))
						WHERE idempotency_key IS NOT NULL`,
				}
				for _, sql := range statements {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				statements := []string{
					`DROP INDEX IF EXISTS idx_notifications_idempotency_key_daily`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_notifications_idempotency_key ON notifications (idempotency_key) WHERE idempotency_key IS NOT NULL`,
				}
				for _, sql := range statements {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			// Deliveries awaiting a retry are parked as FAILED_TRANSIENT; the
			// retry scanner's due query filters on that state.
			ID: "000006_retry_index_on_failed_transient",
			Migrate: func(tx *gorm.DB) error {
				statements := []string{
					`DROP INDEX IF EXISTS idx_deliveries_retry`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON deliveries (next_retry_at) WHERE state = 'FAILED_TRANSIENT'`,
				}
				for _, sql := range statements {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				statements := []string{
					`DROP INDEX IF EXISTS idx_deliveries_retry`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_retry ON deliveries (next_retry_at) WHERE state = 'PENDING'`,
				}
				for _, sql := range statements {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	})

	return m.Migrate()
}
