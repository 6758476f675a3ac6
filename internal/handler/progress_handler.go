package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-activity-api/internal/dto"
	"github.com/noah-isme/sma-activity-api/internal/middleware"
	"github.com/noah-isme/sma-activity-api/internal/models"
	"github.com/noah-isme/sma-activity-api/internal/service"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
	"github.com/noah-isme/sma-activity-api/pkg/response"
)

type progressService interface {
	GetProgress(ctx context.Context, studentID, academicYear string) (*service.ProgressView, error)
	RecalculateYear(ctx context.Context, studentID, academicYear string) (*models.ProgressSnapshot, error)
}

type batchRecalculator interface {
	EnqueueProgram(ctx context.Context, req dto.BatchRecalculateRequest) (*dto.BatchRecalculateResponse, error)
}

type progressExporter interface {
	ProgramProgress(ctx context.Context, programID string, query dto.ProgressExportQuery) (*service.ExportFile, error)
}

// ProgressHandler serves hour progress reads, recomputation and exports.
type ProgressHandler struct {
	progress progressService
	batch    batchRecalculator
	exporter progressExporter
}

// NewProgressHandler constructs a ProgressHandler.
func NewProgressHandler(progress progressService, batch batchRecalculator, exporter progressExporter) *ProgressHandler {
	return &ProgressHandler{progress: progress, batch: batch, exporter: exporter}
}

// Get godoc
// @Summary Student progress
// @Description Stored hour snapshot for an academic year compared with the program target
// @Tags Progress
// @Produce json
// @Param id path string true "Student ID"
// @Param year query string false "Academic year, e.g. 2024-2025"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id}/progress [get]
func (h *ProgressHandler) Get(c *gin.Context) {
	view, err := h.progress.GetProgress(c.Request.Context(), c.Param("id"), c.Query("year"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, view.Cached)
	response.JSON(c, http.StatusOK, view, nil, middleware.ExtractMeta(c))
}

// Recalculate godoc
// @Summary Recalculate student progress
// @Description Recompute the snapshot from eligible enrollments
// @Tags Progress
// @Produce json
// @Param id path string true "Student ID"
// @Param year query string false "Academic year, defaults to the current one"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/progress/recalculate [post]
func (h *ProgressHandler) Recalculate(c *gin.Context) {
	var req dto.RecalculateRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid recalculate query"))
		return
	}
	snapshot, err := h.progress.RecalculateYear(c.Request.Context(), c.Param("id"), req.AcademicYear)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snapshot, nil)
}

// RecalculateBatch godoc
// @Summary Batch recalculation
// @Description Queue recomputation for every active student of a program, or all students
// @Tags Progress
// @Accept json
// @Produce json
// @Param payload body dto.BatchRecalculateRequest false "Program filter"
// @Success 202 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /progress/recalculate [post]
func (h *ProgressHandler) RecalculateBatch(c *gin.Context) {
	var req dto.BatchRecalculateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch payload"))
			return
		}
	}
	res, err := h.batch.EnqueueProgram(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, res)
}

// Export godoc
// @Summary Export program progress
// @Description Download snapshots of a program as CSV or PDF
// @Tags Progress
// @Produce octet-stream
// @Param id path string true "Program ID"
// @Param year query string false "Academic year"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /programs/{id}/progress/export [get]
func (h *ProgressHandler) Export(c *gin.Context) {
	var query dto.ProgressExportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid export query"))
		return
	}
	file, err := h.exporter.ProgramProgress(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
