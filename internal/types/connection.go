package types

import "time"

type ConnectionType string

const (
	ConnectionTypeMetaTrader ConnectionType = "metatrader"
	ConnectionTypeFileUpload ConnectionType = "file_upload"
	ConnectionTypeEmail      ConnectionType = "email"
)

type Platform string

const (
	PlatformMT4 Platform = "mt4"
	PlatformMT5 Platform = "mt5"
)

type ConnectionStatus string

const (
	ConnectionStatusPending      ConnectionStatus = "pending"
	ConnectionStatusActive       ConnectionStatus = "active"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusError        ConnectionStatus = "error"
)

type SyncFrequency string

const (
	SyncRealtime SyncFrequency = "realtime"
	Sync5Min     SyncFrequency = "5min"
	Sync15Min    SyncFrequency = "15min"
	SyncManual   SyncFrequency = "manual"
)

// BrokerConnection links a user's journal to an automated or file-based trade source.
type BrokerConnection struct {
	ID             uint             `gorm:"primaryKey" json:"-"`
	ConnectionID   string           `gorm:"uniqueIndex" json:"connection_id"`
	UserID         string           `gorm:"not null;index" json:"user_id"`
	ConnectionType ConnectionType   `gorm:"not null" json:"connection_type"`
	Platform       *Platform        `json:"platform"`
	BrokerName     string           `json:"broker_name"`
	AccountNumber  string           `json:"account_number"`
	ConnectionCode string           `gorm:"uniqueIndex;not null" json:"connection_code"`
	Status         ConnectionStatus `gorm:"not null;index" json:"status"`
	SyncFrequency  SyncFrequency    `json:"sync_frequency"`
	LastSyncAt     *time.Time       `json:"last_sync_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (BrokerConnection) TableName() string {
	return "broker_connections"
}

// ParsePlatform maps a free-form platform value onto a known platform.
func ParsePlatform(s string) (*Platform, bool) {
	switch Platform(s) {
	case PlatformMT4, PlatformMT5:
		p := Platform(s)
		return &p, true
	}
	return nil, false
}
