// Package journal persists canonical trades and answers the dedup question.
package journal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/ksred/tradejournal-api/internal/types"
	"gorm.io/gorm"
)

var ErrMissingTicket = errors.New("missing ticket")

// Store writes journal entries. Re-ingesting a ticket never creates a second
// row: the insert itself is conditional on the (user, ticket, broker) key.
type Store struct {
	db *Database
}

func NewStore(gormDB *gorm.DB) *Store {
	return &Store{db: NewDatabase(gormDB)}
}

// InsertIfAbsent assigns a trade id and inserts entry in one statement.
// It returns false when an entry with the same key already exists.
func (s *Store) InsertIfAbsent(ctx context.Context, entry *types.JournalEntry) (bool, error) {
	if entry.Ticket() == "" {
		return false, ErrMissingTicket
	}
	if entry.TradeID == "" {
		entry.TradeID = uuid.New().String()
	}
	return s.db.InsertIfAbsent(ctx, entry)
}

// Exists reports whether the key is taken. It is advisory only; use
// InsertIfAbsent to write.
func (s *Store) Exists(ctx context.Context, userID, ticket, brokerName string) (bool, error) {
	return s.db.Exists(ctx, userID, ticket, brokerName)
}
