package ingest

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ksred/tradejournal-api/internal/types"
	"github.com/ksred/tradejournal-api/pkg/middleware"
	"github.com/ksred/tradejournal-api/pkg/response"
	"github.com/rs/zerolog/log"
)

// uploadErrorPreview is how many per-record errors an upload response shows
const uploadErrorPreview = 5

// multipartOverhead is the room allowed for boundaries and form fields on top
// of the file itself
const multipartOverhead = 64 << 10

// WebhookResponse is returned to the broker bridge
type WebhookResponse struct {
	Success  bool `json:"success"`
	Imported int  `json:"imported"`
	Skipped  int  `json:"skipped"`
	Errors   int  `json:"errors"`
}

// UploadResponse is returned for file uploads
type UploadResponse struct {
	Success      bool                 `json:"success"`
	DryRun       bool                 `json:"dry_run,omitempty"`
	ImportID     string               `json:"import_id,omitempty"`
	TotalFound   int                  `json:"total_found"`
	Imported     int                  `json:"imported"`
	Skipped      int                  `json:"skipped"`
	Errors       int                  `json:"errors"`
	ErrorDetails []types.RecordError  `json:"error_details"`
	Trades       []types.JournalEntry `json:"trades"`
	Undated      []string             `json:"undated"`
}

// GinHandlers contains HTTP handlers for the ingestion endpoints
type GinHandlers struct {
	pipeline       *Pipeline
	maxUploadBytes int64
}

// NewGinHandlers creates handlers that accept uploads up to maxUploadBytes
func NewGinHandlers(pipeline *Pipeline, maxUploadBytes int64) *GinHandlers {
	return &GinHandlers{
		pipeline:       pipeline,
		maxUploadBytes: maxUploadBytes,
	}
}

// WebhookHandler handles POST requests from broker bridges. It is not session
// authenticated; the connection code in the body is the credential.
func (h *GinHandlers) WebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(c, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.pipeline.IngestWebhook(c.Request.Context(), body)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, WebhookResponse{
			Success:  true,
			Imported: result.Imported,
			Skipped:  result.Skipped,
			Errors:   result.Errored,
		})
	}
}

// UploadHandler handles multipart uploads of broker exports
// Form fields: file (required, .csv or .txt), broker (optional)
// Query parameter: dry_run
func (h *GinHandlers) UploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dryRun := false
		if raw := c.Query("dry_run"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				response.BadRequest(c, "dry_run must be true or false")
				return
			}
			dryRun = v
		}

		// Bound the whole multipart body before it is parsed or spilled to disk
		bodyLimit := h.maxUploadBytes + multipartOverhead
		if c.Request.ContentLength > bodyLimit {
			response.Error(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)

		fileHeader, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(c, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			response.BadRequest(c, "No file uploaded")
			return
		}
		if fileHeader.Size > h.maxUploadBytes {
			response.BadRequest(c, fmt.Sprintf("File too large, max %d bytes", h.maxUploadBytes))
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			response.BadRequest(c, "Could not read uploaded file")
			return
		}
		defer file.Close()

		// Read one byte past the limit so an understated header size is still caught
		data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
		if err != nil {
			log.Error().Err(err).Str("filename", fileHeader.Filename).Msg("failed to read upload")
			response.InternalError(c, "Could not read uploaded file")
			return
		}
		if int64(len(data)) > h.maxUploadBytes {
			response.BadRequest(c, fmt.Sprintf("File too large, max %d bytes", h.maxUploadBytes))
			return
		}

		result, err := h.pipeline.IngestFile(c.Request.Context(), FileUpload{
			UserID:   middleware.UserID(c),
			Filename: fileHeader.Filename,
			Broker:   c.PostForm("broker"),
			Data:     data,
			DryRun:   dryRun,
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, newUploadResponse(result, dryRun))
	}
}

func newUploadResponse(result RunResult, dryRun bool) UploadResponse {
	details := result.Errors
	if len(details) > uploadErrorPreview {
		details = details[:uploadErrorPreview]
	}

	resp := UploadResponse{
		Success:      true,
		DryRun:       dryRun,
		ImportID:     result.RunID,
		TotalFound:   result.Considered(),
		Imported:     result.Imported,
		Skipped:      result.Skipped,
		Errors:       result.Errored,
		ErrorDetails: details,
		Trades:       result.Trades,
		Undated:      result.Undated,
	}
	if resp.ErrorDetails == nil {
		resp.ErrorDetails = []types.RecordError{}
	}
	if resp.Trades == nil {
		resp.Trades = []types.JournalEntry{}
	}
	if resp.Undated == nil {
		resp.Undated = []string{}
	}
	return resp
}
