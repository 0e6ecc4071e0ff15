package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"appraisal-review-backend/models"
	"appraisal-review-backend/service"

	"github.com/gin-gonic/gin"
)

// KBHandler handles HTTP requests for the comparable-case corpus
type KBHandler struct {
	kbService *service.KBService
	extractor service.Extractor
}

// NewKBHandler creates a new knowledge-base handler
func NewKBHandler(kbService *service.KBService, extractor service.Extractor) *KBHandler {
	return &KBHandler{
		kbService: kbService,
		extractor: extractor,
	}
}

// IngestDocument handles POST /api/documents
func (h *KBHandler) IngestDocument(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	report, err := h.extractor.Extract(payload)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_DOCUMENT", err.Error())
		return
	}

	result, err := h.kbService.IngestDocument(c.Request.Context(), service.IngestRequest{Report: report})
	if err != nil {
		if errors.Is(err, service.ErrEmptyDocument) {
			errorResponse(c, http.StatusBadRequest, "EMPTY_DOCUMENT", "Document has no cases to ingest")
			return
		}
		errorResponse(c, http.StatusInternalServerError, "INGEST_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetDocument handles GET /api/documents/:id
func (h *KBHandler) GetDocument(c *gin.Context) {
	doc, err := h.kbService.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    doc,
	})
}

// ListDocuments handles GET /api/documents
func (h *KBHandler) ListDocuments(c *gin.Context) {
	reportType := models.ReportType(c.Query("report_type"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	docs, err := h.kbService.ListDocuments(c.Request.Context(), reportType, limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    docs,
	})
}

// DeleteDocument handles DELETE /api/documents/:id
func (h *KBHandler) DeleteDocument(c *gin.Context) {
	docID := c.Param("id")
	if err := h.kbService.DeleteDocument(c.Request.Context(), docID); err != nil {
		errorResponse(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"deleted": docID,
		},
	})
}

// GetCase handles GET /api/kb/cases/:id
func (h *KBHandler) GetCase(c *gin.Context) {
	kbCase, err := h.kbService.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, "CASE_NOT_FOUND", "Case not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    kbCase,
	})
}

// QueryCasesRequest represents the request body for a structured case query
type QueryCasesRequest struct {
	ReportType models.ReportType `json:"report_type"`
	District   string            `json:"district"`
	Usage      string            `json:"usage"`
	Keyword    string            `json:"keyword"`
	MinPrice   *float64          `json:"min_price"`
	MaxPrice   *float64          `json:"max_price"`
	MinArea    *float64          `json:"min_area"`
	MaxArea    *float64          `json:"max_area"`
	Limit      int               `json:"limit"`
}

// QueryCases handles POST /api/kb/cases/query
func (h *KBHandler) QueryCases(c *gin.Context) {
	var req QueryCasesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	cases, err := h.kbService.QueryCases(c.Request.Context(), models.CaseQuery{
		ReportType: req.ReportType,
		District:   req.District,
		Usage:      req.Usage,
		Keyword:    req.Keyword,
		MinPrice:   req.MinPrice,
		MaxPrice:   req.MaxPrice,
		MinArea:    req.MinArea,
		MaxArea:    req.MaxArea,
		Limit:      req.Limit,
	})
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "QUERY_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    cases,
	})
}

// SearchSimilarRequest represents the request body for a similarity search
type SearchSimilarRequest struct {
	ReportType   models.ReportType `json:"report_type" binding:"required"`
	District     string            `json:"district"`
	Address      string            `json:"address"`
	Usage        string            `json:"usage"`
	Area         *float64          `json:"area"`
	Price        *float64          `json:"price"`
	BuildYear    *int              `json:"build_year"`
	CurrentFloor *int              `json:"current_floor"`
	Mode         string            `json:"mode"`
	VectorWeight *float64          `json:"vector_weight"`
	Limit        int               `json:"limit"`
}

// SearchSimilar handles POST /api/search/similar
func (h *KBHandler) SearchSimilar(c *gin.Context) {
	var req SearchSimilarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	matches, degraded, err := h.kbService.SearchSimilar(c.Request.Context(), service.SimilarityQuery{
		ReportType:   req.ReportType,
		District:     req.District,
		Address:      req.Address,
		Usage:        req.Usage,
		Area:         req.Area,
		Price:        req.Price,
		BuildYear:    req.BuildYear,
		CurrentFloor: req.CurrentFloor,
		Mode:         service.SearchMode(req.Mode),
		VectorWeight: req.VectorWeight,
		Limit:        req.Limit,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidSearchMode) {
			errorResponse(c, http.StatusBadRequest, "INVALID_MODE", err.Error())
			return
		}
		if errors.Is(err, service.ErrEmbeddingUnavailable) {
			errorResponse(c, http.StatusServiceUnavailable, "EMBEDDING_UNAVAILABLE", err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, "SEARCH_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"matches":  matches,
			"degraded": degraded,
		},
	})
}

// GetKBStats handles GET /api/kb/stats
func (h *KBHandler) GetKBStats(c *gin.Context) {
	reportType := models.ReportType(c.DefaultQuery("report_type", string(models.ReportTypeShezhi)))

	stats, err := h.kbService.Stats(c.Request.Context(), reportType)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "STATS_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    stats,
	})
}
