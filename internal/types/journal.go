package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionLong    Direction = "long"
	DirectionShort   Direction = "short"
	DirectionNeutral Direction = "neutral"
)

type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeBreakeven Outcome = "breakeven"
)

type ImportSource string

const (
	ImportSourceMTSync     ImportSource = "mt_sync"
	ImportSourceFileUpload ImportSource = "file_upload"
	ImportSourceEmail      ImportSource = "email"
	ImportSourceManual     ImportSource = "manual"
)

// JournalEntry is the canonical, persisted form of one executed trade.
// (user_id, external_ticket, broker_name) is unique when external_ticket is set.
type JournalEntry struct {
	ID              uint            `gorm:"primaryKey" json:"-"`
	TradeID         string          `gorm:"uniqueIndex" json:"trade_id"`
	UserID          string          `gorm:"not null;uniqueIndex:idx_journal_dedup,priority:1" json:"user_id"`
	ExternalTicket  *string         `gorm:"uniqueIndex:idx_journal_dedup,priority:2" json:"external_ticket"`
	BrokerName      string          `gorm:"not null;uniqueIndex:idx_journal_dedup,priority:3" json:"broker_name"`
	Instrument      string          `gorm:"index" json:"instrument"`
	Direction       Direction       `json:"direction"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	ExitPrice       decimal.Decimal `json:"exit_price"`
	Quantity        decimal.Decimal `json:"quantity"`
	Profit          decimal.Decimal `json:"profit"`
	Commission      decimal.Decimal `json:"commission"`
	Swap            decimal.Decimal `json:"swap"`
	PnL             decimal.Decimal `gorm:"column:pnl" json:"pnl"`
	Outcome         Outcome         `gorm:"index" json:"outcome"`
	EntryDate       *time.Time      `gorm:"type:date;index" json:"entry_date"` // nil when the open time is unknown
	OpenedAt        *time.Time      `json:"opened_at,omitempty"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	HoldTimeMinutes *int64          `json:"hold_time_minutes,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	ImportSource    ImportSource    `json:"import_source"`
	AutoImported    bool            `json:"auto_imported"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (JournalEntry) TableName() string {
	return "journal_entries"
}

// Ticket returns the external ticket or an empty string.
func (e *JournalEntry) Ticket() string {
	if e.ExternalTicket == nil {
		return ""
	}
	return *e.ExternalTicket
}
