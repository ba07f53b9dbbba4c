package connection

import (
	"context"
	"testing"
	"time"

	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresOnlyStalePendingCodes(t *testing.T) {
	svc := NewService(newTestDB(t), NewCodeGenerator("TJ"))
	ctx := context.Background()
	req := CreateRequest{ConnectionType: types.ConnectionTypeMetaTrader, BrokerName: "ICMarkets"}

	stale, err := svc.CreateConnection(ctx, "user-1", req)
	require.NoError(t, err)
	used, err := svc.CreateConnection(ctx, "user-1", req)
	require.NoError(t, err)
	require.NoError(t, svc.RecordSync(ctx, used.ConnectionID, SyncUpdate{LastSyncAt: time.Now().UTC()}))

	sweeper := NewSweeper(svc, time.Hour, time.Minute)

	// Nothing is old enough yet
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.ResolveActiveConnection(ctx, stale.ConnectionCode)
	assert.Equal(t, types.KindAuth, types.KindOf(err))

	conn, err := svc.ResolveActiveConnection(ctx, used.ConnectionCode)
	require.NoError(t, err)
	assert.Equal(t, types.ConnectionStatusActive, conn.Status)

	// A second pass finds nothing left to expire
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperStopsOnCancel(t *testing.T) {
	svc := NewService(newTestDB(t), NewCodeGenerator("TJ"))
	sweeper := NewSweeper(svc, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
