package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/ksred/tradejournal-api/internal/audit"
	"github.com/ksred/tradejournal-api/internal/connection"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTradeStore struct {
	mock.Mock
}

func (m *MockTradeStore) InsertIfAbsent(ctx context.Context, entry *types.JournalEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockTradeStore) Exists(ctx context.Context, userID, ticket, brokerName string) (bool, error) {
	args := m.Called(ctx, userID, ticket, brokerName)
	return args.Bool(0), args.Error(1)
}

type MockRunLog struct {
	mock.Mock
}

func (m *MockRunLog) Record(ctx context.Context, e audit.Entry) (*types.ImportRun, error) {
	args := m.Called(ctx, e)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ImportRun), args.Error(1)
}

type MockConnections struct {
	mock.Mock
}

func (m *MockConnections) ResolveActiveConnection(ctx context.Context, code string) (*types.BrokerConnection, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.BrokerConnection), args.Error(1)
}

func (m *MockConnections) RecordSync(ctx context.Context, connectionID string, update connection.SyncUpdate) error {
	args := m.Called(ctx, connectionID, update)
	return args.Error(0)
}

func activeConn() *types.BrokerConnection {
	mt5 := types.PlatformMT5
	return &types.BrokerConnection{
		ConnectionID:   "conn-1",
		UserID:         "user-1",
		ConnectionType: types.ConnectionTypeMetaTrader,
		Platform:       &mt5,
		BrokerName:     "ICMarkets",
		ConnectionCode: "TJ-AAAA-AAAA",
		Status:         types.ConnectionStatusActive,
	}
}

func TestIngestWebhookAuthFailureWritesNothing(t *testing.T) {
	store := new(MockTradeStore)
	runs := new(MockRunLog)
	conns := new(MockConnections)
	conns.On("ResolveActiveConnection", mock.Anything, "TJ-NOPE-NOPE").
		Return(nil, types.AuthError("Invalid or inactive connection code"))

	p := NewPipeline(store, runs, conns)
	_, err := p.IngestWebhook(context.Background(), []byte(`{"connection_code":"TJ-NOPE-NOPE","trades":[{"ticket":"1","symbol":"EURUSD"}]}`))

	assert.Equal(t, types.KindAuth, types.KindOf(err))
	store.AssertNotCalled(t, "InsertIfAbsent", mock.Anything, mock.Anything)
	runs.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	conns.AssertNotCalled(t, "RecordSync", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestWebhookValidatesEnvelopeBeforeAuth(t *testing.T) {
	conns := new(MockConnections)
	p := NewPipeline(new(MockTradeStore), new(MockRunLog), conns)

	_, err := p.IngestWebhook(context.Background(), []byte(`{"connection_code":"TJ-AAAA-AAAA","trades":"nope"}`))
	assert.Equal(t, types.KindValidation, types.KindOf(err))
	conns.AssertNotCalled(t, "ResolveActiveConnection", mock.Anything, mock.Anything)
}

func TestIngestWebhookIsolatesRecordFailures(t *testing.T) {
	store := new(MockTradeStore)
	runs := new(MockRunLog)
	conns := new(MockConnections)

	conns.On("ResolveActiveConnection", mock.Anything, "TJ-AAAA-AAAA").Return(activeConn(), nil)
	conns.On("RecordSync", mock.Anything, "conn-1", mock.MatchedBy(func(u connection.SyncUpdate) bool {
		return u.AccountNumber == "998877" && u.Platform != nil && *u.Platform == types.PlatformMT5
	})).Return(nil)

	isTicket := func(ticket string) interface{} {
		return mock.MatchedBy(func(e *types.JournalEntry) bool { return e.Ticket() == ticket })
	}
	store.On("InsertIfAbsent", mock.Anything, isTicket("1")).Return(true, nil)
	store.On("InsertIfAbsent", mock.Anything, isTicket("2")).Return(false, errors.New("disk I/O error"))
	store.On("InsertIfAbsent", mock.Anything, isTicket("3")).Return(false, nil)

	runs.On("Record", mock.Anything, mock.MatchedBy(func(e audit.Entry) bool {
		return e.UserID == "user-1" &&
			e.ConnectionID != nil && *e.ConnectionID == "conn-1" &&
			e.ImportType == types.ImportTypeWebhook &&
			e.Imported == 1 && e.Skipped == 1 && e.Errored == 3 &&
			len(e.Errors) == 3
	})).Return(&types.ImportRun{ID: "run-1"}, nil)

	body := `{
		"connection_code": "TJ-AAAA-AAAA",
		"account_number": "998877",
		"trades": [
			{"ticket": "1", "symbol": "EURUSD", "type": "buy", "profit": 10},
			{"ticket": "2", "symbol": "EURUSD", "type": "buy", "profit": 10},
			"garbage",
			{"ticket": "3", "symbol": "EURUSD", "type": "sell", "profit": -5},
			{"symbol": "XAUUSD", "profit": 1}
		]
	}`

	result, err := NewPipeline(store, runs, conns).IngestWebhook(context.Background(), []byte(body))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 3, result.Errored)
	assert.Equal(t, 5, result.Considered())
	assert.Equal(t, "run-1", result.RunID)

	require.Len(t, result.Errors, 3)
	assert.Equal(t, "2", result.Errors[0].Ticket)
	assert.Contains(t, result.Errors[0].Error, "disk I/O error")
	assert.Equal(t, "row 3", result.Errors[1].Ticket)
	assert.Equal(t, "row 5", result.Errors[2].Ticket)
	assert.Equal(t, "missing ticket", result.Errors[2].Error)

	require.Len(t, result.Trades, 1)
	assert.Equal(t, "ICMarkets", result.Trades[0].BrokerName)
	assert.Equal(t, types.ImportSourceMTSync, result.Trades[0].ImportSource)
	assert.True(t, result.Trades[0].AutoImported)

	store.AssertExpectations(t)
	runs.AssertExpectations(t)
	conns.AssertExpectations(t)
}

func TestIngestWebhookAuditFailureIsSystemError(t *testing.T) {
	store := new(MockTradeStore)
	runs := new(MockRunLog)
	conns := new(MockConnections)

	conns.On("ResolveActiveConnection", mock.Anything, mock.Anything).Return(activeConn(), nil)
	store.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	runs.On("Record", mock.Anything, mock.Anything).Return(nil, types.SystemError("failed to write import history", errors.New("db gone")))

	_, err := NewPipeline(store, runs, conns).IngestWebhook(context.Background(),
		[]byte(`{"connection_code":"TJ-AAAA-AAAA","trades":[{"ticket":"1","symbol":"EURUSD"}]}`))

	assert.Equal(t, types.KindSystem, types.KindOf(err))
	conns.AssertNotCalled(t, "RecordSync", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestWebhookSyncFailureDoesNotFailBatch(t *testing.T) {
	store := new(MockTradeStore)
	runs := new(MockRunLog)
	conns := new(MockConnections)

	conns.On("ResolveActiveConnection", mock.Anything, mock.Anything).Return(activeConn(), nil)
	conns.On("RecordSync", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("locked"))
	store.On("InsertIfAbsent", mock.Anything, mock.Anything).Return(true, nil)
	runs.On("Record", mock.Anything, mock.Anything).Return(&types.ImportRun{ID: "run-1"}, nil)

	result, err := NewPipeline(store, runs, conns).IngestWebhook(context.Background(),
		[]byte(`{"connection_code":"TJ-AAAA-AAAA","trades":[{"ticket":"1","symbol":"EURUSD"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
}

func TestIngestFileDryRunWritesNothing(t *testing.T) {
	store := new(MockTradeStore)
	runs := new(MockRunLog)

	store.On("Exists", mock.Anything, "user-1", "100", "Pepperstone").Return(true, nil)
	store.On("Exists", mock.Anything, "user-1", "101", "Pepperstone").Return(false, nil)

	result, err := NewPipeline(store, runs, new(MockConnections)).IngestFile(context.Background(), FileUpload{
		UserID:   "user-1",
		Filename: "history.CSV",
		Broker:   "Pepperstone",
		Data:     []byte("ticket,symbol,type,profit\n100,EURUSD,buy,5\n101,EURUSD,sell,-5\n"),
		DryRun:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.RunID)
	store.AssertNotCalled(t, "InsertIfAbsent", mock.Anything, mock.Anything)
	runs.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestIngestFileRejectsBeforeProcessing(t *testing.T) {
	runs := new(MockRunLog)
	p := NewPipeline(new(MockTradeStore), runs, new(MockConnections))

	tests := []struct {
		name     string
		filename string
		data     string
		msg      string
	}{
		{"unsupported extension", "trades.xlsx", "ticket\n1\n", msgUnsupportedFormat},
		{"binary content", "trades.csv", "ticket\x00\n1\n", msgBinaryContent},
		{"invalid utf8", "trades.txt", "ticket\n\xff\xfe\n", msgBinaryContent},
		{"no trades", "trades.csv", "ticket,symbol\n,,\n", msgNoTrades},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.IngestFile(context.Background(), FileUpload{UserID: "user-1", Filename: tt.filename, Data: []byte(tt.data)})
			require.Error(t, err)
			assert.Equal(t, types.KindValidation, types.KindOf(err))
			assert.Equal(t, tt.msg, err.Error())
		})
	}
	runs.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestProperty_RunResultAccountsForEveryRecord(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("imported + skipped + errored == considered", prop.ForAll(
		func(dispositions []int) bool {
			var result RunResult
			for i, d := range dispositions {
				o := recordOutcome{disposition: disposition(d), identifier: "t", entry: &types.JournalEntry{}}
				if o.disposition == dispErrored {
					o.err = errors.New("bad")
				}
				result = result.with(o)
				if result.Considered() != i+1 {
					return false
				}
			}
			return len(result.Errors) == result.Errored && len(result.Trades) == result.Imported
		},
		gen.SliceOf(gen.IntRange(int(dispImported), int(dispErrored))),
	))

	properties.TestingRun(t)
}
