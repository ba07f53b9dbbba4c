package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/tradejournal-api/internal/database"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/ksred/tradejournal-api/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		imported, skipped, errored int
		want                       types.ImportStatus
	}{
		{3, 0, 0, types.ImportStatusCompleted},
		{0, 3, 0, types.ImportStatusCompleted},
		{0, 0, 0, types.ImportStatusCompleted},
		{2, 0, 1, types.ImportStatusPartial},
		{0, 1, 1, types.ImportStatusPartial},
		{0, 0, 4, types.ImportStatusFailed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d/%d", tt.imported, tt.skipped, tt.errored), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.imported, tt.skipped, tt.errored))
		})
	}
}

func TestRecordCapsErrorDetails(t *testing.T) {
	db := newTestDB(t)
	auditLog := NewLog(db)

	errs := make([]types.RecordError, 0, 80)
	for i := 0; i < 80; i++ {
		errs = append(errs, types.RecordError{Ticket: fmt.Sprint(i), Error: "bad"})
	}

	connID := "conn-1"
	run, err := auditLog.Record(context.Background(), Entry{
		UserID:       "user-1",
		ConnectionID: &connID,
		ImportType:   types.ImportTypeWebhook,
		SourceName:   "MT5 Bridge",
		Imported:     1,
		Errored:      80,
		Errors:       errs,
		Metadata:     map[string]interface{}{"undated": []string{"7"}},
	})
	require.NoError(t, err)
	assert.Equal(t, types.ImportStatusPartial, run.Status)
	assert.Len(t, run.ID, 26)

	var stored types.ImportRun
	require.NoError(t, db.First(&stored, "id = ?", run.ID).Error)

	var details []types.RecordError
	require.NoError(t, json.Unmarshal(stored.ErrorDetails, &details))
	assert.Len(t, details, MaxErrorDetails)
	assert.Equal(t, "0", details[0].Ticket)

	var metadata map[string][]string
	require.NoError(t, json.Unmarshal(stored.Metadata, &metadata))
	assert.Equal(t, []string{"7"}, metadata["undated"])
	require.NotNil(t, stored.ConnectionID)
	assert.Equal(t, "conn-1", *stored.ConnectionID)
}

func TestListRunsNewestFirst(t *testing.T) {
	auditLog := NewLog(newTestDB(t))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		run, err := auditLog.Record(ctx, Entry{UserID: "user-1", ImportType: types.ImportTypeFile, SourceName: fmt.Sprintf("file-%d.csv", i)})
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	_, err := auditLog.Record(ctx, Entry{UserID: "user-2", ImportType: types.ImportTypeFile})
	require.NoError(t, err)

	runs, err := auditLog.ListRuns(ctx, "user-1", 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, ids[4], runs[0].ID)
	assert.Equal(t, ids[3], runs[1].ID)
	assert.Equal(t, ids[2], runs[2].ID)
	assert.Equal(t, "[]", string(runs[0].ErrorDetails))
}

func TestImportHistoryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auditLog := NewLog(newTestDB(t))
	for i := 0; i < 3; i++ {
		_, err := auditLog.Record(context.Background(), Entry{UserID: "user-1", ImportType: types.ImportTypeWebhook})
		require.NoError(t, err)
	}

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set(middleware.UserIDKey, "user-1") })
	router.GET("/imports", NewGinHandlers(auditLog).ImportHistoryHandler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imports?limit=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Imports []types.ImportRun `json:"imports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Imports, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/imports?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
