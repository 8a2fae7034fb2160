package ingest

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"opsdash/internal/pkg/identity"
	"opsdash/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// bodyReadSlack is read past the size limit so an oversized body is
// detected without buffering all of it.
const bodyReadSlack = 1

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Submit godoc
// @Summary Push operational records
// @Description Single request upload, or chunked session initiation when X-Transfer-Mode is "chunked".
// @Tags Ingest
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param Idempotency-Key header string false "Replays the original result for 24h"
// @Param X-Transfer-Mode header string false "chunked to open an upload session"
// @Param X-Upload-Content-Length header int false "Total payload size for chunked uploads"
// @Success 200 {object} ImportResponse
// @Success 201 {object} SessionResponse
// @Success 204
// @Failure 400,401,403,413,422,429,500 {object} map[string]interface{}
// @Router /ingest [post]
func (h *Handler) Submit(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	opts := submitOptions(c)

	if strings.EqualFold(strings.TrimSpace(c.GetHeader(HeaderTransferMode)), TransferModeChunked) {
		h.initiate(c, caller, opts)
		return
	}

	limits, err := h.service.Limits(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	body, err := readBody(c, limits.MaxPayloadBytes)
	if err != nil {
		writeError(c, err)
		return
	}

	outcome, err := h.service.SubmitSingle(c.Request.Context(), caller, string(body), opts)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOutcome(c, outcome)
}

func (h *Handler) initiate(c *gin.Context, caller *identity.Identity, opts SubmitOptions) {
	expected, err := strconv.ParseInt(strings.TrimSpace(c.GetHeader(HeaderUploadLength)), 10, 64)
	if err != nil {
		writeError(c, ErrMissingLength)
		return
	}

	started, prior, err := h.service.InitiateChunked(c.Request.Context(), caller, expected, opts)
	if err != nil {
		writeError(c, err)
		return
	}
	if prior != nil {
		writeOutcome(c, prior)
		return
	}

	c.Header("Location", sessionPath(c, started.Session.ID))
	c.JSON(http.StatusCreated, SessionResponse{
		Success:       true,
		SessionID:     started.Session.ID,
		ExpectedBytes: started.Session.ExpectedBytes,
		ExpiresAt:     started.ExpiresAt,
	})
}

// AppendChunk godoc
// @Summary Upload one byte range of a chunked upload
// @Tags Ingest
// @Accept octet-stream
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Upload session ID"
// @Param Content-Range header string true "bytes <start>-<end>/<total>"
// @Success 200 {object} ImportResponse
// @Success 204
// @Failure 400,401,403,404,413,422,500 {object} map[string]interface{}
// @Router /ingest/sessions/{id} [put]
func (h *Handler) AppendChunk(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}

	limits, err := h.service.Limits(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	body, err := readBody(c, limits.MaxPayloadBytes)
	if err != nil {
		// A partly read chunk leaves the offset unknown; the upload restarts.
		if abortErr := h.service.Abort(c.Request.Context(), caller, c.Param("id")); abortErr != nil && !IsNotFound(abortErr) {
			_ = c.Error(abortErr)
		}
		response.Error(c, http.StatusBadRequest, "PROTOCOL_ERROR", "Failed to read chunk body")
		return
	}

	res, err := h.service.AppendChunk(c.Request.Context(), caller, c.Param("id"), c.GetHeader("Content-Range"), body, submitOptions(c))
	if err != nil {
		writeError(c, err)
		return
	}

	if !res.Complete {
		c.Header("Range", ResumeRange(res.ReceivedBytes))
		c.Status(http.StatusOK)
		return
	}

	c.Header("Range", ResumeRange(res.ExpectedBytes))
	writeOutcome(c, res.Outcome)
}

// Status godoc
// @Summary Progress of a chunked upload
// @Tags Ingest
// @Produce json
// @Security ApiKeyAuth
// @Param id path string true "Upload session ID"
// @Success 200 {object} SessionResponse
// @Failure 403,404 {object} map[string]interface{}
// @Router /ingest/sessions/{id} [get]
func (h *Handler) Status(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	st, err := h.service.Status(c.Request.Context(), caller, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if r := ResumeRange(st.Session.ReceivedBytes); r != "" {
		c.Header("Range", r)
	}
	c.JSON(http.StatusOK, SessionResponse{
		Success:       true,
		SessionID:     st.Session.ID,
		ReceivedBytes: st.Session.ReceivedBytes,
		ExpectedBytes: st.Session.ExpectedBytes,
		ExpiresAt:     st.ExpiresAt,
	})
}

// Abort godoc
// @Summary Abandon a chunked upload
// @Tags Ingest
// @Security ApiKeyAuth
// @Param id path string true "Upload session ID"
// @Success 204
// @Failure 403,404 {object} map[string]interface{}
// @Router /ingest/sessions/{id} [delete]
func (h *Handler) Abort(c *gin.Context) {
	caller, ok := mustCaller(c)
	if !ok {
		return
	}
	if err := h.service.Abort(c.Request.Context(), caller, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListLogs godoc
// @Summary Recent import attempts
// @Tags Ingest
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max rows (default 50)"
// @Success 200 {object} map[string]interface{}
// @Router /ingest/logs [get]
func (h *Handler) ListLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.service.ListLogs(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list import logs")
		return
	}
	response.Success(c, http.StatusOK, logs)
}

func writeOutcome(c *gin.Context, o *Outcome) {
	if o.Empty {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, newImportResponse(o))
}

func writeError(c *gin.Context, err error) {
	var (
		rateErr   *RateLimitError
		validErr  *ValidationError
		commitErr *CommitError
	)

	switch {
	case errors.As(err, &rateErr):
		seconds := int(math.Ceil(rateErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		response.ErrorWithDetails(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many import requests", gin.H{
			"retryAfterSeconds": seconds,
		})
	case errors.Is(err, ErrSessionNotFound):
		response.Error(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Upload session not found or expired")
	case errors.Is(err, ErrNotSessionOwner):
		response.Error(c, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, ErrPayloadTooLarge):
		response.Error(c, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", err.Error())
	case IsProtocolError(err):
		response.Error(c, http.StatusBadRequest, "PROTOCOL_ERROR", err.Error())
	case errors.As(err, &validErr):
		response.ErrorWithDetails(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Payload failed validation", gin.H{
			"shape":           validErr.Report.Shape,
			"errors":          validErr.Report.Errors,
			"truncatedErrors": validErr.Report.TruncatedErrors,
			"warnings":        validErr.Report.Warnings,
		})
	case errors.As(err, &commitErr):
		_ = c.Error(err)
		response.ErrorWithDetails(c, http.StatusInternalServerError, "COMMIT_FAILED", "Import could not be committed; it is safe to retry", gin.H{
			"logId": commitErr.LogID,
		})
	default:
		_ = c.Error(err)
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Import failed")
	}
}

func mustCaller(c *gin.Context) (*identity.Identity, bool) {
	caller, ok := identity.FromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return nil, false
	}
	return caller, true
}

func submitOptions(c *gin.Context) SubmitOptions {
	return SubmitOptions{
		IdempotencyKey: strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey)),
		Source:         strings.TrimSpace(c.GetHeader(HeaderSource)),
		FileName:       strings.TrimSpace(c.GetHeader(HeaderFileName)),
	}
}

// readBody reads at most maxBytes+1 bytes. A body over the limit is cut
// short here and rejected by the size check that follows rate limiting.
func readBody(c *gin.Context, maxBytes int64) ([]byte, error) {
	reader := io.Reader(c.Request.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(c.Request.Body, maxBytes+bodyReadSlack)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func sessionPath(c *gin.Context, id string) string {
	base := strings.TrimSuffix(c.FullPath(), "/")
	if base == "" {
		base = "/ingest"
	}
	return base + "/sessions/" + id
}
