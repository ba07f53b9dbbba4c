package journal

import (
	"context"

	"github.com/ksred/tradejournal-api/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dedupColumns must match idx_journal_dedup exactly for ON CONFLICT to bind to it
var dedupColumns = []clause.Column{{Name: "user_id"}, {Name: "external_ticket"}, {Name: "broker_name"}}

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// InsertIfAbsent inserts entry unless its dedup key is already taken and
// reports whether a row was written.
func (d *Database) InsertIfAbsent(ctx context.Context, entry *types.JournalEntry) (bool, error) {
	result := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: dedupColumns, DoNothing: true}).
		Create(entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) Exists(ctx context.Context, userID, ticket, brokerName string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&types.JournalEntry{}).
		Where("user_id = ? AND external_ticket = ? AND broker_name = ?", userID, ticket, brokerName).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
