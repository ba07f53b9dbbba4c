package connection

import (
	"context"
	"time"

	"github.com/ksred/tradejournal-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateConnection(ctx context.Context, conn *types.BrokerConnection) error {
	return d.db.WithContext(ctx).Create(conn).Error
}

// GetConnectionByCode returns the connection for code if its status is one of statuses.
func (d *Database) GetConnectionByCode(ctx context.Context, code string, statuses []types.ConnectionStatus) (*types.BrokerConnection, error) {
	var conn types.BrokerConnection
	err := d.db.WithContext(ctx).
		Where("connection_code = ? AND status IN ?", code, statuses).
		First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (d *Database) ListConnections(ctx context.Context, userID string) ([]types.BrokerConnection, error) {
	var conns []types.BrokerConnection
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateConnectionFields applies fields to one connection whose status is one of
// statuses and reports whether such a connection exists
func (d *Database) UpdateConnectionFields(ctx context.Context, connectionID string, statuses []types.ConnectionStatus, fields map[string]interface{}) (bool, error) {
	fields["updated_at"] = time.Now()
	result := d.db.WithContext(ctx).Model(&types.BrokerConnection{}).
		Where("connection_id = ? AND status IN ?", connectionID, statuses).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) DeleteConnection(ctx context.Context, connectionID, userID string) (bool, error) {
	result := d.db.WithContext(ctx).
		Where("connection_id = ? AND user_id = ?", connectionID, userID).
		Delete(&types.BrokerConnection{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateStatusWhere moves connections in status from to status to when they
// also match the extra condition, returning how many changed.
func (d *Database) UpdateStatusWhere(ctx context.Context, from, to types.ConnectionStatus, query string, args ...interface{}) (int64, error) {
	result := d.db.WithContext(ctx).Model(&types.BrokerConnection{}).
		Where("status = ?", from).
		Where(query, args...).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	return result.RowsAffected, result.Error
}
