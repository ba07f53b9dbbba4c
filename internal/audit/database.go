package audit

import (
	"context"

	"github.com/ksred/tradejournal-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRun(ctx context.Context, run *types.ImportRun) error {
	return d.db.WithContext(ctx).Create(run).Error
}

// ListRuns orders by id; run ids are ULIDs and sort by creation time
func (d *Database) ListRuns(ctx context.Context, userID string, limit int) ([]types.ImportRun, error) {
	var runs []types.ImportRun
	err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
