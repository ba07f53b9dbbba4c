// Package parser turns raw request payloads into loosely-typed trade records.
package parser

import (
	"strings"

	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/tidwall/gjson"
)

const (
	msgMissingCode   = "Missing connection_code"
	msgInvalidTrades = "Invalid trades data"
	msgInvalidBody   = "Invalid request body"
)

// WebhookBatch is the envelope a broker bridge posts
type WebhookBatch struct {
	ConnectionCode string
	AccountNumber  string
	Broker         string
	Platform       string
	Records        []types.RawTradeRecord
}

// ParseWebhook checks the envelope and coerces each trade into a record.
// Envelope problems are validation errors; a trade that is not an object
// becomes an invalid record so the rest of the batch still runs.
func ParseWebhook(body []byte) (*WebhookBatch, error) {
	if !gjson.ValidBytes(body) {
		return nil, types.ValidationError(msgInvalidBody)
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return nil, types.ValidationError(msgInvalidBody)
	}

	batch := &WebhookBatch{
		ConnectionCode: strings.TrimSpace(parsed.Get("connection_code").String()),
		AccountNumber:  strings.TrimSpace(parsed.Get("account_number").String()),
		Broker:         strings.TrimSpace(parsed.Get("broker").String()),
		Platform:       strings.ToLower(strings.TrimSpace(parsed.Get("platform").String())),
	}
	if batch.ConnectionCode == "" {
		return nil, types.ValidationError(msgMissingCode)
	}

	trades := parsed.Get("trades")
	if !trades.IsArray() {
		return nil, types.ValidationError(msgInvalidTrades)
	}

	index := 0
	trades.ForEach(func(_, trade gjson.Result) bool {
		index++
		rec := types.RawTradeRecord{Index: index, Fields: map[string]string{}}
		if !trade.IsObject() {
			rec.Invalid = "trade is not an object"
			batch.Records = append(batch.Records, rec)
			return true
		}

		trade.ForEach(func(key, value gjson.Result) bool {
			if v, ok := scalar(value); ok {
				rec.Fields[strings.ToLower(strings.TrimSpace(key.String()))] = v
			}
			return true
		})
		batch.Records = append(batch.Records, rec)
		return true
	})

	return batch, nil
}

// scalar renders a JSON value as text. Numbers keep their literal form so
// decimal parsing sees exactly what the bridge sent.
func scalar(v gjson.Result) (string, bool) {
	switch v.Type {
	case gjson.String:
		return v.Str, true
	case gjson.Number:
		return v.Raw, true
	case gjson.True, gjson.False:
		return v.String(), true
	default:
		return "", false
	}
}
