package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"appraisal-review-backend/models"
	"appraisal-review-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReviewHandler handles HTTP requests for review tasks
type ReviewHandler struct {
	reviewService *service.ReviewService
	orchestrator  *service.Orchestrator
}

// NewReviewHandler creates a new review handler
func NewReviewHandler(reviewService *service.ReviewService, orchestrator *service.Orchestrator) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
		orchestrator:  orchestrator,
	}
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// SubmitReviewRequest represents the request body for submitting a review
type SubmitReviewRequest struct {
	Filename string          `json:"filename"`
	Report   json.RawMessage `json:"report" binding:"required"`
}

// SubmitReview handles POST /api/reviews
func (h *ReviewHandler) SubmitReview(c *gin.Context) {
	var req SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	task, err := h.reviewService.Submit(c.Request.Context(), service.SubmitRequest{
		Filename: req.Filename,
		Payload:  req.Report,
	})
	if err != nil {
		if errors.Is(err, service.ErrExtractionFailed) {
			errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "SUBMIT_FAILED", err.Error())
		return
	}

	if err := h.orchestrator.Submit(task.ID); err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "SUBMIT_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"task_id": task.ID,
			"status":  task.Status,
		},
	})
}

// SubmitBatchRequest represents the request body for a batch submission
type SubmitBatchRequest struct {
	Reports []SubmitReviewRequest `json:"reports" binding:"required,min=1"`
}

// SubmitBatch handles POST /api/reviews/batch
func (h *ReviewHandler) SubmitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	taskIDs := make([]uuid.UUID, 0, len(req.Reports))
	for _, r := range req.Reports {
		task, err := h.reviewService.Submit(c.Request.Context(), service.SubmitRequest{
			Filename: r.Filename,
			Payload:  r.Report,
		})
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "SUBMIT_FAILED", err.Error())
			return
		}
		taskIDs = append(taskIDs, task.ID)
	}

	if err := h.orchestrator.SubmitBatch(taskIDs); err != nil {
		errorResponse(c, http.StatusServiceUnavailable, "SUBMIT_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"task_ids": taskIDs,
		},
	})
}

// GetReview handles GET /api/reviews/:id
func (h *ReviewHandler) GetReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_TASK_ID", "Invalid task id format")
		return
	}

	task, err := h.reviewService.GetTask(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "TASK_NOT_FOUND", "Review task not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    task,
	})
}

// ListReviews handles GET /api/reviews
func (h *ReviewHandler) ListReviews(c *gin.Context) {
	status := models.TaskStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tasks, err := h.reviewService.ListTasks(c.Request.Context(), status, limit, offset)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    tasks,
	})
}

// GetStats handles GET /api/reviews/stats
func (h *ReviewHandler) GetStats(c *gin.Context) {
	stats, err := h.reviewService.TaskStats(c.Request.Context())
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "STATS_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"tasks":       stats,
			"queue_depth": h.orchestrator.QueueDepth(),
		},
	})
}

// CancelReview handles POST /api/reviews/:id/cancel
func (h *ReviewHandler) CancelReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_TASK_ID", "Invalid task id format")
		return
	}

	if err := h.orchestrator.Cancel(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			errorResponse(c, http.StatusNotFound, "TASK_NOT_FOUND", "Review task not found")
		case errors.Is(err, service.ErrTaskNotCancellable):
			errorResponse(c, http.StatusConflict, "TASK_FINISHED", "Task has already finished")
		default:
			errorResponse(c, http.StatusInternalServerError, "CANCEL_FAILED", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"task_id": id,
			"status":  models.TaskStatusFailed,
		},
	})
}

// DeleteReview handles DELETE /api/reviews/:id
func (h *ReviewHandler) DeleteReview(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_TASK_ID", "Invalid task id format")
		return
	}

	if err := h.reviewService.DeleteTask(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			errorResponse(c, http.StatusNotFound, "TASK_NOT_FOUND", "Review task not found")
		case errors.Is(err, service.ErrTaskNotTerminal):
			errorResponse(c, http.StatusConflict, "TASK_ACTIVE", "Cancel the task before deleting it")
		default:
			errorResponse(c, http.StatusInternalServerError, "DELETE_FAILED", err.Error())
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"deleted": id,
		},
	})
}
