// Package normalize maps broker-specific record keys onto the canonical trade
// shape. Every broker quirk lives in the alias table; Normalize itself has no
// per-format branches.
package normalize

import (
	"strings"

	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

type Field string

const (
	FieldTicket     Field = "ticket"
	FieldSymbol     Field = "symbol"
	FieldDirection  Field = "direction"
	FieldEntryPrice Field = "entry_price"
	FieldExitPrice  Field = "exit_price"
	FieldQuantity   Field = "quantity"
	FieldProfit     Field = "profit"
	FieldCommission Field = "commission"
	FieldSwap       Field = "swap"
	FieldOpenTime   Field = "open_time"
	FieldCloseTime  Field = "close_time"
	FieldComment    Field = "comment"
	FieldBroker     Field = "broker"
)

// Aliases lists, per canonical field, the source keys accepted in priority
// order. Keys are compared after lower-casing and trimming.
var Aliases = map[Field][]string{
	FieldTicket:     {"ticket", "order", "deal", "position", "position id", "trade id", "id"},
	FieldSymbol:     {"symbol", "instrument", "item", "pair", "market"},
	FieldDirection:  {"type", "direction", "side"},
	FieldEntryPrice: {"open_price", "open price", "entry", "entry price", "price"},
	FieldExitPrice:  {"close_price", "close price", "exit", "exit price", "close"},
	FieldQuantity:   {"lots", "volume", "size", "quantity", "qty"},
	FieldProfit:     {"profit", "pnl", "p/l", "p&l", "net profit"},
	FieldCommission: {"commission", "commissions", "fee", "fees"},
	FieldSwap:       {"swap", "swaps", "rollover"},
	FieldOpenTime:   {"open_time", "open time", "opentime", "open date", "entry time", "time", "date"},
	FieldCloseTime:  {"close_time", "close time", "closetime", "close date", "exit time"},
	FieldComment:    {"comment", "comments", "note", "notes"},
	FieldBroker:     {"broker", "broker_name", "broker name"},
}

var textPolicy = bluemonday.StrictPolicy()

// Trade is a record with canonical keys and typed values. Times stay raw;
// resolving them is fallible and belongs to the resolver.
type Trade struct {
	Ticket     string
	Symbol     string
	Direction  types.Direction
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	Profit     decimal.Decimal
	Commission decimal.Decimal
	Swap       decimal.Decimal
	OpenTime   string
	CloseTime  string
	Comment    string
	Broker     string
}

// Lookup returns the value of the first alias of f present with a non-empty value
func Lookup(fields map[string]string, f Field) string {
	for _, alias := range Aliases[f] {
		if v := strings.TrimSpace(fields[alias]); v != "" {
			return v
		}
	}
	return ""
}

// Identifies reports whether fields carry a ticket or a symbol
func Identifies(fields map[string]string) bool {
	return Lookup(fields, FieldTicket) != "" || Lookup(fields, FieldSymbol) != ""
}

// Identifier names a record for error reporting: its ticket, else its row
func Identifier(rec types.RawTradeRecord) string {
	if t := Lookup(rec.Fields, FieldTicket); t != "" {
		return t
	}
	return rec.RowLabel()
}

// Normalize maps rec onto the canonical shape. Numeric values that do not
// parse become zero.
func Normalize(rec types.RawTradeRecord) Trade {
	f := rec.Fields
	return Trade{
		Ticket:     Lookup(f, FieldTicket),
		Symbol:     sanitize(Lookup(f, FieldSymbol)),
		Direction:  ParseDirection(Lookup(f, FieldDirection)),
		EntryPrice: Number(Lookup(f, FieldEntryPrice)),
		ExitPrice:  Number(Lookup(f, FieldExitPrice)),
		Quantity:   Number(Lookup(f, FieldQuantity)),
		Profit:     Number(Lookup(f, FieldProfit)),
		Commission: Number(Lookup(f, FieldCommission)),
		Swap:       Number(Lookup(f, FieldSwap)),
		OpenTime:   Lookup(f, FieldOpenTime),
		CloseTime:  Lookup(f, FieldCloseTime),
		Comment:    sanitize(Lookup(f, FieldComment)),
		Broker:     sanitize(Lookup(f, FieldBroker)),
	}
}

// ParseDirection matches buy/long and sell/short anywhere in v, ignoring case
func ParseDirection(v string) types.Direction {
	v = strings.ToLower(v)
	switch {
	case strings.Contains(v, "buy"), strings.Contains(v, "long"):
		return types.DirectionLong
	case strings.Contains(v, "sell"), strings.Contains(v, "short"):
		return types.DirectionShort
	default:
		return types.DirectionNeutral
	}
}

// Bounds on accepted numbers. Anything outside them is not a trade value, and
// rescaling it during arithmetic would cost time and memory in the exponent.
const (
	maxNumberLen   = 64
	maxNumberScale = 30
)

// Number coerces a broker-formatted number, returning zero when it cannot.
// Thousands separators are accepted when a decimal point is also present.
func Number(v string) decimal.Decimal {
	v = strings.ReplaceAll(strings.TrimSpace(v), " ", "")
	v = strings.TrimPrefix(v, "+")
	if strings.Contains(v, ",") && strings.Contains(v, ".") {
		v = strings.ReplaceAll(v, ",", "")
	}
	if v == "" || len(v) > maxNumberLen {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero
	}
	if exp := d.Exponent(); exp > maxNumberScale || exp < -maxNumberScale {
		return decimal.Zero
	}
	return d
}

func sanitize(s string) string {
	return strings.TrimSpace(textPolicy.Sanitize(s))
}
