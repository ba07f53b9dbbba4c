package migrations

import (
	"gorm.io/gorm"
)

// AddJournalDedupIndex guarantees the unique key that insert-if-absent relies on.
// AutoMigrate creates it from the struct tags; this covers databases created
// before the tag existed.
func AddJournalDedupIndex(db *gorm.DB) error {
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_dedup
		ON journal_entries(user_id, external_ticket, broker_name)`).Error
}
