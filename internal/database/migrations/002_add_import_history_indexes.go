package migrations

import "gorm.io/gorm"

// AddImportHistoryIndexes creates the indexes used by the import history views
func AddImportHistoryIndexes(db *gorm.DB) error {
	indexes := []string{
		// Per-user history, newest first
		`CREATE INDEX IF NOT EXISTS idx_import_history_user_created
		 ON import_history(user_id, created_at)`,

		// Runs for one connection
		`CREATE INDEX IF NOT EXISTS idx_import_history_connection
		 ON import_history(connection_id, created_at)`,

		// Journal rows by day for calendar views
		`CREATE INDEX IF NOT EXISTS idx_journal_entries_user_entry_date
		 ON journal_entries(user_id, entry_date)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
