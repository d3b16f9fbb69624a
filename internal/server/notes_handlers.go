package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/studyshelf/coursenotes/backend/internal/notes"
)

type notePayload struct {
	ID               string  `json:"id"`
	UserID           string  `json:"user_id"`
	CourseSlug       string  `json:"course_slug"`
	Title            string  `json:"title"`
	Content          *string `json:"content"`
	FileURL          *string `json:"file_url"`
	StoragePath      *string `json:"storage_path"`
	CreatedAtSeconds int64   `json:"created_at_s"`
}

func toNotePayload(note notes.Note) notePayload {
	return notePayload{
		ID:               note.ID,
		UserID:           note.UserID,
		CourseSlug:       note.CourseSlug,
		Title:            note.Title,
		Content:          note.Content,
		FileURL:          note.FileURL,
		StoragePath:      note.StoragePath,
		CreatedAtSeconds: note.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleListCourses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"courses": h.courses.All()})
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	listed, err := h.notesService.List(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	payloads := make([]notePayload, 0, len(listed))
	for _, note := range listed {
		payloads = append(payloads, toNotePayload(note))
	}
	c.JSON(http.StatusOK, gin.H{"notes": payloads})
}

type textNotePayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	request := notes.SubmissionRequest{
		AuthorID:   sess.UserID,
		CourseSlug: c.Param("slug"),
	}

	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
			return
		}
		opened, err := fileHeader.Open()
		if err != nil {
			h.logger.Error("failed to open uploaded file", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_file"})
			return
		}
		defer opened.Close()

		request.Title = c.PostForm("title")
		request.Payload = notes.BinaryPayload{
			Filename:  fileHeader.Filename,
			MIMEType:  fileHeader.Header.Get("Content-Type"),
			SizeBytes: fileHeader.Size,
			Data:      opened,
		}
	} else {
		var body textNotePayload
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		request.Title = body.Title
		if strings.TrimSpace(body.Content) != "" {
			request.Payload = notes.TextPayload{Content: body.Content}
		}
	}

	created, err := h.notesService.Submit(c.Request.Context(), request)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toNotePayload(created))
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.notesService.Delete(c.Request.Context(), c.Param("id"), sess.UserID); err != nil {
		h.respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondServiceError maps a notes ServiceError onto an HTTP status, keeping
// the dotted error code in the body so failures stay attributable.
func (h *httpHandler) respondServiceError(c *gin.Context, err error) {
	var serviceErr *notes.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("notes request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	status := http.StatusInternalServerError
	switch serviceErr.Kind() {
	case notes.FailureValidation:
		switch {
		case strings.HasSuffix(serviceErr.Code(), ".not_authenticated"):
			status = http.StatusUnauthorized
		case strings.HasSuffix(serviceErr.Code(), ".not_owner"):
			status = http.StatusForbidden
		default:
			status = http.StatusBadRequest
		}
	case notes.FailurePersistence:
		if strings.HasSuffix(serviceErr.Code(), ".note_not_found") {
			status = http.StatusNotFound
		}
	case notes.FailureStorage:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("notes request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": serviceErr.Code()})
}
