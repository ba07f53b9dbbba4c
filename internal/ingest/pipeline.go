// Package ingest turns webhook batches and uploaded exports into journal
// entries. Each record is processed in isolation: a failing record is noted
// in the run result and the batch carries on.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ksred/tradejournal-api/internal/audit"
	"github.com/ksred/tradejournal-api/internal/connection"
	"github.com/ksred/tradejournal-api/internal/journal"
	"github.com/ksred/tradejournal-api/internal/normalize"
	"github.com/ksred/tradejournal-api/internal/parser"
	"github.com/ksred/tradejournal-api/internal/resolve"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	msgUnsupportedFormat = "Unsupported file format. Please upload a .csv or .txt file"
	msgBinaryContent     = "File does not contain readable text"
	msgNoTrades          = "No trades found in file"
)

var allowedExtensions = map[string]bool{".csv": true, ".txt": true}

// TradeStore persists journal entries
type TradeStore interface {
	InsertIfAbsent(ctx context.Context, entry *types.JournalEntry) (bool, error)
	Exists(ctx context.Context, userID, ticket, brokerName string) (bool, error)
}

// RunLog records the summary of a run
type RunLog interface {
	Record(ctx context.Context, e audit.Entry) (*types.ImportRun, error)
}

// Connections authenticates bridges and stamps their sync metadata
type Connections interface {
	ResolveActiveConnection(ctx context.Context, code string) (*types.BrokerConnection, error)
	RecordSync(ctx context.Context, connectionID string, update connection.SyncUpdate) error
}

// Batch is one pipeline invocation's worth of records plus their context
type Batch struct {
	UserID       string
	ConnectionID *string
	ImportType   types.ImportType
	Source       types.ImportSource
	SourceName   string
	// Broker is used for records that name no broker of their own
	Broker  string
	Records []types.RawTradeRecord
	DryRun  bool
}

// RunResult is the outcome of one batch. Imported+Skipped+Errored always
// equals the number of records considered.
type RunResult struct {
	Imported int
	Skipped  int
	Errored  int
	Errors   []types.RecordError
	// Trades holds the imported entries, or the would-be imports of a dry run
	Trades []types.JournalEntry
	// Undated lists records imported without a usable open time
	Undated []string
	RunID   string
}

func (r RunResult) Considered() int {
	return r.Imported + r.Skipped + r.Errored
}

type disposition int

const (
	dispImported disposition = iota
	dispSkipped
	dispErrored
)

// dedupKey is the per-user identity of a trade within one batch
type dedupKey struct {
	ticket string
	broker string
}

// recordOutcome is what happened to a single record
type recordOutcome struct {
	disposition disposition
	identifier  string
	entry       *types.JournalEntry
	undated     bool
	err         error
}

// with folds one record outcome into the result
func (r RunResult) with(o recordOutcome) RunResult {
	switch o.disposition {
	case dispImported:
		r.Imported++
		r.Trades = append(r.Trades, *o.entry)
		if o.undated {
			r.Undated = append(r.Undated, o.identifier)
		}
	case dispSkipped:
		r.Skipped++
	case dispErrored:
		r.Errored++
		r.Errors = append(r.Errors, types.RecordError{Ticket: o.identifier, Error: o.err.Error()})
	}
	return r
}

// FileUpload is a user-submitted broker export
type FileUpload struct {
	UserID   string
	Filename string
	Broker   string
	Data     []byte
	DryRun   bool
}

// Pipeline orchestrates parse, normalize, resolve, dedup, persist and audit
type Pipeline struct {
	trades      TradeStore
	runs        RunLog
	connections Connections
	now         func() time.Time
}

func NewPipeline(trades TradeStore, runs RunLog, connections Connections) *Pipeline {
	return &Pipeline{
		trades:      trades,
		runs:        runs,
		connections: connections,
		now:         time.Now,
	}
}

// IngestWebhook authenticates a bridge batch by its connection code and runs it.
// Envelope and auth failures return before anything is written.
func (p *Pipeline) IngestWebhook(ctx context.Context, body []byte) (RunResult, error) {
	batch, err := parser.ParseWebhook(body)
	if err != nil {
		return RunResult{}, err
	}

	conn, err := p.connections.ResolveActiveConnection(ctx, batch.ConnectionCode)
	if err != nil {
		return RunResult{}, err
	}

	logger := log.With().
		Str("connection_id", conn.ConnectionID).
		Str("user_id", conn.UserID).
		Str("service", "ingest").
		Logger()

	platform := conn.Platform
	if reported, ok := types.ParsePlatform(batch.Platform); ok {
		platform = reported
	}
	broker := batch.Broker
	if broker == "" {
		broker = conn.BrokerName
	}

	result, err := p.run(ctx, logger, Batch{
		UserID:       conn.UserID,
		ConnectionID: &conn.ConnectionID,
		ImportType:   types.ImportTypeWebhook,
		Source:       types.ImportSourceMTSync,
		SourceName:   bridgeName(platform),
		Broker:       broker,
		Records:      batch.Records,
	}, map[string]interface{}{
		"account_number": batch.AccountNumber,
		"platform":       platformString(platform),
		"total_received": len(batch.Records),
	})
	if err != nil {
		return RunResult{}, err
	}

	// Sync metadata is last-writer-wins and does not affect the trades already written
	err = p.connections.RecordSync(ctx, conn.ConnectionID, connection.SyncUpdate{
		LastSyncAt:    p.now().UTC(),
		AccountNumber: batch.AccountNumber,
		BrokerName:    batch.Broker,
		Platform:      platform,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to record connection sync")
	}

	return result, nil
}

// IngestFile parses an uploaded export and runs it for the uploading user.
// A dry run reports what would happen and writes nothing.
func (p *Pipeline) IngestFile(ctx context.Context, upload FileUpload) (RunResult, error) {
	if !allowedExtensions[strings.ToLower(filepath.Ext(upload.Filename))] {
		return RunResult{}, types.ValidationError(msgUnsupportedFormat)
	}
	if bytes.IndexByte(upload.Data, 0) >= 0 || !utf8.Valid(upload.Data) {
		return RunResult{}, types.ValidationError(msgBinaryContent)
	}

	records, err := parser.ParseDelimited(upload.Data)
	if err != nil {
		return RunResult{}, err
	}
	if len(records) == 0 {
		return RunResult{}, types.ValidationError(msgNoTrades)
	}

	logger := log.With().
		Str("user_id", upload.UserID).
		Str("filename", upload.Filename).
		Bool("dry_run", upload.DryRun).
		Str("service", "ingest").
		Logger()

	return p.run(ctx, logger, Batch{
		UserID:     upload.UserID,
		ImportType: types.ImportTypeFile,
		Source:     types.ImportSourceFileUpload,
		SourceName: filepath.Base(upload.Filename),
		Broker:     strings.TrimSpace(upload.Broker),
		Records:    records,
		DryRun:     upload.DryRun,
	}, map[string]interface{}{
		"filename":    filepath.Base(upload.Filename),
		"total_found": len(records),
	})
}

// run processes every record of b in order, then writes the audit row unless
// this is a dry run.
func (p *Pipeline) run(ctx context.Context, logger zerolog.Logger, b Batch, metadata map[string]interface{}) (RunResult, error) {
	var result RunResult
	// Dry runs write nothing, so repeats within the batch are tracked here
	seen := make(map[dedupKey]bool)
	for _, rec := range b.Records {
		o := p.processRecord(ctx, b, rec, seen)
		if o.disposition == dispErrored {
			logger.Warn().Str("record", o.identifier).Err(o.err).Msg("record failed")
		}
		result = result.with(o)
	}

	logger.Info().
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("errored", result.Errored).
		Msg("processed batch")

	if b.DryRun {
		return result, nil
	}

	if len(result.Undated) > 0 {
		metadata["undated"] = result.Undated
	}
	run, err := p.runs.Record(ctx, audit.Entry{
		UserID:       b.UserID,
		ConnectionID: b.ConnectionID,
		ImportType:   b.ImportType,
		SourceName:   b.SourceName,
		Imported:     result.Imported,
		Skipped:      result.Skipped,
		Errored:      result.Errored,
		Errors:       result.Errors,
		Metadata:     metadata,
	})
	if err != nil {
		return RunResult{}, err
	}
	result.RunID = run.ID
	return result, nil
}

// processRecord carries one record through normalize, resolve and persist.
// Nothing it does can fail the batch.
func (p *Pipeline) processRecord(ctx context.Context, b Batch, rec types.RawTradeRecord, seen map[dedupKey]bool) (o recordOutcome) {
	o.identifier = normalize.Identifier(rec)
	defer func() {
		if r := recover(); r != nil {
			o = recordOutcome{disposition: dispErrored, identifier: o.identifier, err: fmt.Errorf("unexpected failure: %v", r)}
		}
	}()

	if rec.Invalid != "" {
		return recordOutcome{disposition: dispErrored, identifier: o.identifier, err: errors.New(rec.Invalid)}
	}

	trade := normalize.Normalize(rec)
	if trade.Ticket == "" {
		return recordOutcome{disposition: dispErrored, identifier: o.identifier, err: journal.ErrMissingTicket}
	}

	resolved := resolve.Resolve(trade)
	entry := resolved.Entry
	entry.UserID = b.UserID
	entry.ImportSource = b.Source
	entry.AutoImported = true
	if entry.BrokerName == "" {
		entry.BrokerName = b.Broker
	}

	o.entry = &entry
	o.undated = resolved.Undated

	if b.DryRun {
		key := dedupKey{ticket: trade.Ticket, broker: entry.BrokerName}
		if seen[key] {
			o.disposition = dispSkipped
			return o
		}
		exists, err := p.trades.Exists(ctx, b.UserID, trade.Ticket, entry.BrokerName)
		switch {
		case err != nil:
			o.disposition, o.err = dispErrored, fmt.Errorf("dedup check failed: %w", err)
		case exists:
			o.disposition = dispSkipped
		default:
			o.disposition = dispImported
			seen[key] = true
		}
		return o
	}

	inserted, err := p.trades.InsertIfAbsent(ctx, &entry)
	switch {
	case err != nil:
		o.disposition, o.err = dispErrored, fmt.Errorf("failed to save trade: %w", err)
	case inserted:
		o.disposition = dispImported
	default:
		o.disposition = dispSkipped
	}
	return o
}

func bridgeName(platform *types.Platform) string {
	if platform == nil {
		return "MetaTrader Bridge"
	}
	return strings.ToUpper(string(*platform)) + " Bridge"
}

func platformString(platform *types.Platform) string {
	if platform == nil {
		return ""
	}
	return string(*platform)
}
