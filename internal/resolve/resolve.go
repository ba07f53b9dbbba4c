// Package resolve derives the computed fields of a journal entry. Everything
// here is a pure function of its input.
package resolve

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ksred/tradejournal-api/internal/normalize"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/shopspring/decimal"
)

var ErrUnparseableTime = errors.New("unparseable time")

// timeLayouts are tried in order. Broker server times carry no zone and are
// read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006.01.02",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Result is a resolved trade. Undated is set when the open time was missing
// or unreadable, in which case Entry.EntryDate is nil.
type Result struct {
	Entry   types.JournalEntry
	Undated bool
}

// Resolve computes pnl, outcome, hold time and entry date for t. The returned
// entry has no owner, id or import source; the caller supplies those.
func Resolve(t normalize.Trade) Result {
	pnl := NetPnL(t.Profit, t.Commission, t.Swap)

	entry := types.JournalEntry{
		Instrument: t.Symbol,
		BrokerName: t.Broker,
		Direction:  t.Direction,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		Profit:     t.Profit,
		Commission: t.Commission,
		Swap:       t.Swap,
		PnL:        pnl,
		Outcome:    OutcomeOf(pnl),
		Notes:      t.Comment,
	}
	if t.Ticket != "" {
		ticket := t.Ticket
		entry.ExternalTicket = &ticket
	}

	res := Result{Undated: true}

	opened, openErr := ParseTime(t.OpenTime)
	if openErr == nil {
		date := EntryDate(opened)
		openedUTC := opened.UTC()
		entry.EntryDate = &date
		entry.OpenedAt = &openedUTC
		res.Undated = false
	}

	if closed, err := ParseTime(t.CloseTime); err == nil {
		closedUTC := closed.UTC()
		entry.ClosedAt = &closedUTC
		if openErr == nil {
			entry.HoldTimeMinutes = HoldTimeMinutes(opened, closed)
		}
	}

	res.Entry = entry
	return res
}

// NetPnL is profit + commission + swap, exact to the inputs' precision
func NetPnL(profit, commission, swap decimal.Decimal) decimal.Decimal {
	return profit.Add(commission).Add(swap)
}

func OutcomeOf(pnl decimal.Decimal) types.Outcome {
	switch pnl.Sign() {
	case 1:
		return types.OutcomeWin
	case -1:
		return types.OutcomeLoss
	default:
		return types.OutcomeBreakeven
	}
}

// HoldTimeMinutes returns whole minutes held, or nil unless that is positive
func HoldTimeMinutes(opened, closed time.Time) *int64 {
	minutes := int64(closed.Sub(opened) / time.Minute)
	if minutes <= 0 {
		return nil
	}
	return &minutes
}

// EntryDate is the calendar date of t in t's own zone, as a UTC midnight
func EntryDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseTime reads the timestamp formats brokers export, including unix
// epochs in seconds or milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparseableTime)
	}

	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, s)
		}
		switch {
		case len(s) >= 12 && len(s) <= 13:
			return time.UnixMilli(n).UTC(), nil
		case len(s) >= 9 && len(s) <= 10:
			return time.Unix(n, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, s)
	}

	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, s)
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
