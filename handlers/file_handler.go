package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"appraisal-review-backend/models"
	"appraisal-review-backend/repository"
	"appraisal-review-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FileHandler handles HTTP requests for uploaded report files
type FileHandler struct {
	fileRepo         *repository.FileRepository
	storage          storage.Storage
	maxFileSize      int64
	allowedMimeTypes map[string]bool
}

// NewFileHandler creates a new file handler
func NewFileHandler(fileRepo *repository.FileRepository, store storage.Storage) *FileHandler {
	return &FileHandler{
		fileRepo:    fileRepo,
		storage:     store,
		maxFileSize: 20 * 1024 * 1024, // 20MB
		allowedMimeTypes: map[string]bool{
			"application/pdf":    true,
			"application/json":   true,
			"text/plain":         true,
			"application/msword": true, // .doc
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true, // .docx
		},
	}
}

// UploadFile handles POST /api/files/upload
func (h *FileHandler) UploadFile(c *gin.Context) {
	userIDStr := c.PostForm("user_id")
	if userIDStr == "" {
		errorResponse(c, http.StatusBadRequest, "MISSING_USER_ID", "user_id is required")
		return
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_USER_ID", "Invalid user_id format")
		return
	}

	var taskID *uuid.UUID
	if taskIDStr := c.PostForm("task_id"); taskIDStr != "" {
		tid, err := uuid.Parse(taskIDStr)
		if err != nil {
			errorResponse(c, http.StatusBadRequest, "INVALID_TASK_ID", "Invalid task_id format")
			return
		}
		taskID = &tid
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "MISSING_FILE", "File is required")
		return
	}

	if fileHeader.Size > h.maxFileSize {
		errorResponse(c, http.StatusBadRequest, "FILE_TOO_LARGE",
			fmt.Sprintf("File size exceeds maximum of %d bytes", h.maxFileSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "FILE_OPEN_ERROR", err.Error())
		return
	}
	defer file.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = inferMimeType(fileHeader.Filename)
	}
	if !h.allowedMimeTypes[mimeType] && !strings.HasPrefix(mimeType, "text/") {
		errorResponse(c, http.StatusBadRequest, "INVALID_FILE_TYPE",
			"File type not allowed. Allowed types: PDF, JSON, TXT, DOC, DOCX")
		return
	}

	fileID := uuid.New()

	storagePath, err := h.storage.Upload(c.Request.Context(), fileID, fileHeader.Filename, file)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "UPLOAD_FAILED",
			fmt.Sprintf("Failed to upload file: %v", err))
		return
	}

	fileRecord := &models.File{
		ID:          fileID,
		UserID:      userID,
		TaskID:      taskID,
		Filename:    fileHeader.Filename,
		MimeType:    mimeType,
		Size:        fileHeader.Size,
		StoragePath: storagePath,
	}

	if err := h.fileRepo.Create(c.Request.Context(), fileRecord); err != nil {
		// Clean up the uploaded blob so storage and database stay in step
		h.storage.Delete(c.Request.Context(), storagePath)
		errorResponse(c, http.StatusInternalServerError, "DATABASE_ERROR",
			fmt.Sprintf("Failed to save file record: %v", err))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"id":         fileRecord.ID,
			"filename":   fileRecord.Filename,
			"mime_type":  fileRecord.MimeType,
			"size":       fileRecord.Size,
			"task_id":    fileRecord.TaskID,
			"created_at": fileRecord.CreatedAt,
		},
	})
}

func inferMimeType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".json"):
		return "application/json"
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	case strings.HasSuffix(lower, ".doc"):
		return "application/msword"
	case strings.HasSuffix(lower, ".docx"):
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}

// GetFile handles GET /api/files/:id
func (h *FileHandler) GetFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_ID", "Invalid file ID format")
		return
	}

	file, err := h.fileRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "File not found")
		return
	}

	reader, err := h.storage.Download(c.Request.Context(), file.StoragePath)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "DOWNLOAD_FAILED",
			fmt.Sprintf("Failed to download file: %v", err))
		return
	}
	defer reader.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	c.DataFromReader(http.StatusOK, file.Size, file.MimeType, reader, nil)
}

// ListFiles handles GET /api/files
func (h *FileHandler) ListFiles(c *gin.Context) {
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_USER_ID", "user_id query parameter is required")
		return
	}

	files, err := h.fileRepo.ListByUserID(c.Request.Context(), userID)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    files,
	})
}

// DeleteFile handles DELETE /api/files/:id
func (h *FileHandler) DeleteFile(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_ID", "Invalid file ID format")
		return
	}

	file, err := h.fileRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "File not found")
		return
	}

	if err := h.storage.Delete(c.Request.Context(), file.StoragePath); err != nil {
		errorResponse(c, http.StatusInternalServerError, "DELETE_FAILED",
			fmt.Sprintf("Failed to delete stored file: %v", err))
		return
	}
	if err := h.fileRepo.Delete(c.Request.Context(), id); err != nil {
		errorResponse(c, http.StatusInternalServerError, "DATABASE_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"deleted": id,
		},
	})
}
