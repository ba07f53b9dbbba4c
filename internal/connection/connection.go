package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/ksred/tradejournal-api/pkg/middleware"
	"github.com/ksred/tradejournal-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// maxCodeAttempts bounds regenerate-and-retry on code collisions. Hitting it
// means the code space is exhausted or the generator is broken.
const maxCodeAttempts = 5

const msgInvalidCode = "Invalid or inactive connection code"

// authenticating lists the statuses allowed to push trades. A pending
// connection becomes active on its first accepted sync.
var authenticating = []types.ConnectionStatus{types.ConnectionStatusPending, types.ConnectionStatusActive}

// CreateRequest describes a new connection
type CreateRequest struct {
	ConnectionType types.ConnectionType `json:"connection_type" binding:"required"`
	BrokerName     string               `json:"broker_name"`
	AccountNumber  string               `json:"account_number"`
	Platform       string               `json:"platform"`
	SyncFrequency  types.SyncFrequency  `json:"sync_frequency"`
}

// SyncUpdate carries the metadata recorded after a webhook batch.
// Empty optional fields leave the stored value untouched.
type SyncUpdate struct {
	LastSyncAt    time.Time
	AccountNumber string
	BrokerName    string
	Platform      *types.Platform
}

// Service is the connection registry
type Service struct {
	db       *Database
	generate CodeGenerator
}

// NewService creates a registry backed by gormDB that draws codes from generate
func NewService(gormDB *gorm.DB, generate CodeGenerator) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		generate: generate,
	}
}

// CreateConnection registers a pending connection with a fresh code
func (s *Service) CreateConnection(ctx context.Context, ownerID string, req CreateRequest) (*types.BrokerConnection, error) {
	logger := log.With().
		Str("user_id", ownerID).
		Str("connection_type", string(req.ConnectionType)).
		Str("service", "connection").
		Logger()

	conn, err := newConnection(ownerID, req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return nil, types.SystemError("failed to generate connection code", err)
		}
		conn.ConnectionCode = code

		err = s.db.CreateConnection(ctx, conn)
		if err == nil {
			logger.Info().
				Str("connection_id", conn.ConnectionID).
				Int("attempt", attempt).
				Msg("created connection")
			return conn, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Error().Err(err).Msg("failed to insert connection")
			return nil, types.SystemError("failed to create connection", err)
		}
		logger.Warn().Int("attempt", attempt).Msg("connection code collision, regenerating")
	}

	logger.Error().Int("attempts", maxCodeAttempts).Msg("could not allocate a unique connection code")
	return nil, types.ConflictError("could not allocate a unique connection code", nil)
}

func newConnection(ownerID string, req CreateRequest) (*types.BrokerConnection, error) {
	switch req.ConnectionType {
	case types.ConnectionTypeMetaTrader, types.ConnectionTypeFileUpload, types.ConnectionTypeEmail:
	default:
		return nil, types.ValidationError(fmt.Sprintf("unsupported connection_type %q", req.ConnectionType))
	}

	conn := &types.BrokerConnection{
		ConnectionID:   uuid.New().String(),
		UserID:         ownerID,
		ConnectionType: req.ConnectionType,
		BrokerName:     strings.TrimSpace(req.BrokerName),
		AccountNumber:  strings.TrimSpace(req.AccountNumber),
		Status:         types.ConnectionStatusPending,
		SyncFrequency:  req.SyncFrequency,
	}

	if req.Platform != "" {
		p, ok := types.ParsePlatform(strings.ToLower(req.Platform))
		if !ok {
			return nil, types.ValidationError(fmt.Sprintf("unsupported platform %q", req.Platform))
		}
		conn.Platform = p
	}

	switch conn.SyncFrequency {
	case types.SyncRealtime, types.Sync5Min, types.Sync15Min, types.SyncManual:
	case "":
		conn.SyncFrequency = types.SyncManual
		if conn.ConnectionType == types.ConnectionTypeMetaTrader {
			conn.SyncFrequency = types.SyncRealtime
		}
	default:
		return nil, types.ValidationError(fmt.Sprintf("unsupported sync_frequency %q", req.SyncFrequency))
	}

	return conn, nil
}

// ResolveActiveConnection returns the connection owning code. It is a single
// read and never changes state.
func (s *Service) ResolveActiveConnection(ctx context.Context, code string) (*types.BrokerConnection, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, types.AuthError(msgInvalidCode)
	}

	conn, err := s.db.GetConnectionByCode(ctx, code, authenticating)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.AuthError(msgInvalidCode)
	}
	if err != nil {
		return nil, types.SystemError("failed to resolve connection", err)
	}
	return conn, nil
}

// RecordSync stamps sync metadata and marks the connection active. A connection
// that left pending/active while the batch ran is left as it is.
func (s *Service) RecordSync(ctx context.Context, connectionID string, update SyncUpdate) error {
	fields := map[string]interface{}{
		"last_sync_at": update.LastSyncAt,
		"status":       types.ConnectionStatusActive,
	}
	if v := strings.TrimSpace(update.AccountNumber); v != "" {
		fields["account_number"] = v
	}
	if v := strings.TrimSpace(update.BrokerName); v != "" {
		fields["broker_name"] = v
	}
	if update.Platform != nil {
		fields["platform"] = *update.Platform
	}

	found, err := s.db.UpdateConnectionFields(ctx, connectionID, authenticating, fields)
	if err != nil {
		return types.SystemError("failed to record sync", err)
	}
	if !found {
		return types.NotFoundError("Connection not found or no longer active")
	}
	return nil
}

// ListConnections returns the owner's connections, newest first
func (s *Service) ListConnections(ctx context.Context, ownerID string) ([]types.BrokerConnection, error) {
	return s.db.ListConnections(ctx, ownerID)
}

// DeleteConnection hard-deletes a connection owned by ownerID
func (s *Service) DeleteConnection(ctx context.Context, connectionID, ownerID string) error {
	found, err := s.db.DeleteConnection(ctx, connectionID, ownerID)
	if err != nil {
		return types.SystemError("failed to delete connection", err)
	}
	if !found {
		return types.NotFoundError("Connection not found")
	}
	log.Info().Str("connection_id", connectionID).Str("user_id", ownerID).Msg("deleted connection")
	return nil
}

// GinHandlers contains HTTP handlers for connection management
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for connection endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateConnectionHandler handles POST requests creating a connection for the session user
func (h *GinHandlers) CreateConnectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		conn, err := h.service.CreateConnection(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Created(c, conn)
	}
}

// ListConnectionsHandler handles GET requests listing the session user's connections
func (h *GinHandlers) ListConnectionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conns, err := h.service.ListConnections(c.Request.Context(), middleware.UserID(c))
		response.Handle(c, gin.H{"connections": conns}, err)
	}
}

// DeleteConnectionHandler handles DELETE requests
// URL parameter: connection_id
func (h *GinHandlers) DeleteConnectionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.service.DeleteConnection(c.Request.Context(), c.Param("connection_id"), middleware.UserID(c))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.NoContent(c)
	}
}
