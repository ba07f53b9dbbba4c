// Package audit keeps one immutable summary row per import run.
package audit

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"encoding/json"
	"io"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/ksred/tradejournal-api/pkg/middleware"
	"github.com/ksred/tradejournal-api/pkg/response"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxErrorDetails bounds the per-record errors kept on a run
const MaxErrorDetails = 50

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Entry is what the pipeline knows at the end of a run
type Entry struct {
	UserID       string
	ConnectionID *string
	ImportType   types.ImportType
	SourceName   string
	Imported     int
	Skipped      int
	Errored      int
	Errors       []types.RecordError
	Metadata     map[string]interface{}
}

// Log writes ImportRun rows. Rows are never updated or deleted.
type Log struct {
	db *Database

	mu   sync.Mutex
	mono io.Reader
}

func NewLog(gormDB *gorm.DB) *Log {
	// ulid.Monotonic keeps ids from the same millisecond increasing
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Log{
		db:   NewDatabase(gormDB),
		mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

func (l *Log) newRunID(now time.Time) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), l.mono)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// StatusOf summarises a run: completed with no errors, failed when every
// considered record errored, partial otherwise.
func StatusOf(imported, skipped, errored int) types.ImportStatus {
	considered := imported + skipped + errored
	switch {
	case errored == 0:
		return types.ImportStatusCompleted
	case errored == considered:
		return types.ImportStatusFailed
	default:
		return types.ImportStatusPartial
	}
}

// Record writes the run summary for e
func (l *Log) Record(ctx context.Context, e Entry) (*types.ImportRun, error) {
	now := time.Now().UTC()
	id, err := l.newRunID(now)
	if err != nil {
		return nil, types.SystemError("failed to allocate import run id", err)
	}

	details := e.Errors
	if len(details) > MaxErrorDetails {
		details = details[:MaxErrorDetails]
	}
	if details == nil {
		details = []types.RecordError{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, types.SystemError("failed to encode error details", err)
	}

	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, types.SystemError("failed to encode run metadata", err)
	}

	run := &types.ImportRun{
		ID:           id,
		UserID:       e.UserID,
		ConnectionID: e.ConnectionID,
		ImportType:   e.ImportType,
		SourceName:   e.SourceName,
		Imported:     e.Imported,
		Skipped:      e.Skipped,
		Errored:      e.Errored,
		Status:       StatusOf(e.Imported, e.Skipped, e.Errored),
		ErrorDetails: datatypes.JSON(detailsJSON),
		Metadata:     datatypes.JSON(metadataJSON),
		CreatedAt:    now,
	}

	if err := l.db.CreateRun(ctx, run); err != nil {
		log.Error().Err(err).Str("user_id", e.UserID).Str("run_id", id).Msg("failed to write import run")
		return nil, types.SystemError("failed to write import history", err)
	}

	log.Info().
		Str("run_id", run.ID).
		Str("user_id", run.UserID).
		Str("import_type", string(run.ImportType)).
		Str("status", string(run.Status)).
		Int("imported", run.Imported).
		Int("skipped", run.Skipped).
		Int("errored", run.Errored).
		Msg("recorded import run")
	return run, nil
}

// ListRuns returns the user's most recent runs, newest first
func (l *Log) ListRuns(ctx context.Context, userID string, limit int) ([]types.ImportRun, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	runs, err := l.db.ListRuns(ctx, userID, limit)
	if err != nil {
		return nil, types.SystemError("failed to load import history", err)
	}
	return runs, nil
}

// GinHandlers contains HTTP handlers for import history
type GinHandlers struct {
	log *Log
}

func NewGinHandlers(l *Log) *GinHandlers {
	return &GinHandlers{log: l}
}

// ImportHistoryHandler handles GET requests for the session user's runs
// Query parameter: limit (default 20, max 100)
func (h *GinHandlers) ImportHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = n
		}

		runs, err := h.log.ListRuns(c.Request.Context(), middleware.UserID(c), limit)
		response.Handle(c, gin.H{"imports": runs}, err)
	}
}
