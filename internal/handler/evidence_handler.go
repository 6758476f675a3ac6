package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-activity-api/internal/dto"
	"github.com/noah-isme/sma-activity-api/internal/models"
	"github.com/noah-isme/sma-activity-api/internal/service"
	appErrors "github.com/noah-isme/sma-activity-api/pkg/errors"
	"github.com/noah-isme/sma-activity-api/pkg/response"
)

type evidenceService interface {
	ConfirmParticipation(ctx context.Context, enrollmentID string, req dto.ParticipationRequest) (*models.ActivityEnrollment, error)
	Approve(ctx context.Context, enrollmentID, reviewerID string) (*service.EvidenceDecision, error)
	Reject(ctx context.Context, enrollmentID, reviewerID string, req dto.EvidenceReviewRequest) (*service.EvidenceDecision, error)
}

// EvidenceHandler exposes participation and evidence review endpoints.
type EvidenceHandler struct {
	service evidenceService
}

// NewEvidenceHandler constructs an EvidenceHandler.
func NewEvidenceHandler(svc evidenceService) *EvidenceHandler {
	return &EvidenceHandler{service: svc}
}

// ConfirmParticipation godoc
// @Summary Confirm participation
// @Description Set whether the student actually took part in the activity
// @Tags Evidence
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.ParticipationRequest true "Participation payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /activity-enrollments/{id}/participation [post]
func (h *EvidenceHandler) ConfirmParticipation(c *gin.Context) {
	var req dto.ParticipationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid participation payload"))
		return
	}
	enrollment, err := h.service.ConfirmParticipation(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Approve godoc
// @Summary Approve evidence
// @Description Approve submitted evidence and recalculate the student's progress
// @Tags Evidence
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /activity-enrollments/{id}/evidence/approve [post]
func (h *EvidenceHandler) Approve(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	decision, err := h.service.Approve(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}

// Reject godoc
// @Summary Reject evidence
// @Description Reject submitted or previously approved evidence
// @Tags Evidence
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.EvidenceReviewRequest false "Review note"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /activity-enrollments/{id}/evidence/reject [post]
func (h *EvidenceHandler) Reject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.EvidenceReviewRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid review payload"))
			return
		}
	}
	decision, err := h.service.Reject(c.Request.Context(), c.Param("id"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, decision, nil)
}
