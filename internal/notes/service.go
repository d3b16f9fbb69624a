package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/studyshelf/coursenotes/backend/internal/storage"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingStorage    = errors.New("object store is required")
	errMissingCourses    = errors.New("course registry is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// FailureKind classifies a ServiceError per the workflow's error taxonomy.
type FailureKind string

const (
	// FailureValidation marks caller input that violated a precondition.
	// Checked before any I/O; always recoverable locally.
	FailureValidation FailureKind = "validation"
	// FailureStorage marks a failed binary write. No metadata record exists.
	FailureStorage FailureKind = "storage"
	// FailurePersistence marks a failed metadata read/write/delete.
	FailurePersistence FailureKind = "persistence"
)

// ServiceError carries a dotted operation code, a failure kind, and the cause.
type ServiceError struct {
	kind FailureKind
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code, e.g. "notes.submit.missing_title".
func (e *ServiceError) Code() string {
	return e.code
}

// Kind returns the failure classification.
func (e *ServiceError) Kind() FailureKind {
	return e.kind
}

const (
	opServiceNew = "notes.service.new"
	opSubmit     = "notes.submit"
	opList       = "notes.list"
	opDelete     = "notes.delete"
)

func newServiceError(kind FailureKind, operation, reason string, cause error) error {
	return &ServiceError{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

// IDProvider issues unique identifiers for notes and stored objects.
type IDProvider interface {
	NewID() (string, error)
}

// CourseChecker reports whether a slug names a known course.
type CourseChecker interface {
	Contains(slug string) bool
}

// ServiceConfig describes the dependencies of the notes service.
type ServiceConfig struct {
	Database   *gorm.DB
	Storage    storage.ObjectStore
	Courses    CourseChecker
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service implements the note submission workflow, listing, and deletion.
type Service struct {
	db         *gorm.DB
	storage    storage.ObjectStore
	courses    CourseChecker
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	sanitizer  *bluemonday.Policy
}

// NewService constructs the notes service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(FailureValidation, opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Storage == nil {
		return nil, newServiceError(FailureValidation, opServiceNew, "missing_storage", errMissingStorage)
	}
	if cfg.Courses == nil {
		return nil, newServiceError(FailureValidation, opServiceNew, "missing_courses", errMissingCourses)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(FailureValidation, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		storage:    cfg.Storage,
		courses:    cfg.Courses,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		sanitizer:  bluemonday.StrictPolicy(),
	}, nil
}

// SubmissionRequest is the input to Submit.
type SubmissionRequest struct {
	AuthorID   string
	CourseSlug string
	Title      string
	Payload    Payload
}

// Submit validates the request, writes the binary payload (if any) to object
// storage, then inserts the metadata record. The storage write is strictly
// ordered before the insert; an insert failure after a successful write
// leaves an orphaned object, which is surfaced in the log but not reconciled.
func (s *Service) Submit(ctx context.Context, request SubmissionRequest) (Note, error) {
	content, binary, err := s.validateSubmission(&request)
	if err != nil {
		return Note{}, err
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmit, "id_generation_failed", err)
		return Note{}, newServiceError(FailurePersistence, opSubmit, "id_generation_failed", err)
	}

	note := Note{
		ID:               noteID,
		UserID:           request.AuthorID,
		CourseSlug:       request.CourseSlug,
		Title:            request.Title,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}

	if binary != nil {
		objectID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSubmit, "id_generation_failed", err)
			return Note{}, newServiceError(FailurePersistence, opSubmit, "id_generation_failed", err)
		}
		objectPath := fmt.Sprintf("%s/%s/%s-%s",
			request.AuthorID, request.CourseSlug, objectID, sanitizeFilename(binary.Filename))

		if err := s.storage.Put(ctx, objectPath, binary.Data); err != nil {
			s.logError(opSubmit, "object_write_failed", err,
				zap.String("storage_path", objectPath))
			return Note{}, newServiceError(FailureStorage, opSubmit, "object_write_failed", err)
		}

		fileURL := s.storage.PublicURL(objectPath)
		note.FileURL = &fileURL
		note.StoragePath = &objectPath
	} else {
		note.Content = &content
	}

	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		fields := []zap.Field{
			zap.String("user_id", request.AuthorID),
			zap.String("course_slug", request.CourseSlug),
		}
		if note.StoragePath != nil {
			// The object outlives the failed insert; nothing reconciles it.
			fields = append(fields, zap.String("orphaned_object", *note.StoragePath))
		}
		s.logError(opSubmit, "record_insert_failed", err, fields...)
		return Note{}, newServiceError(FailurePersistence, opSubmit, "record_insert_failed", err)
	}

	return note, nil
}

// validateSubmission applies every precondition before any I/O, reporting the
// first violation. It returns the cleaned text content or the binary payload.
func (s *Service) validateSubmission(request *SubmissionRequest) (string, *BinaryPayload, error) {
	if strings.TrimSpace(request.AuthorID) == "" {
		return "", nil, newServiceError(FailureValidation, opSubmit, "not_authenticated", nil)
	}
	if !s.courses.Contains(request.CourseSlug) {
		return "", nil, newServiceError(FailureValidation, opSubmit, "unknown_course", nil)
	}
	request.Title = strings.TrimSpace(request.Title)
	if request.Title == "" {
		return "", nil, newServiceError(FailureValidation, opSubmit, "missing_title", nil)
	}

	switch payload := request.Payload.(type) {
	case BinaryPayload:
		if _, ok := allowedMIMETypes[payload.MIMEType]; !ok {
			return "", nil, newServiceError(FailureValidation, opSubmit, "unsupported_type", nil)
		}
		if payload.SizeBytes > MaxFileSizeBytes {
			return "", nil, newServiceError(FailureValidation, opSubmit, "file_too_large", nil)
		}
		return "", &payload, nil
	case TextPayload:
		content := strings.TrimSpace(payload.Content)
		if content == "" {
			return "", nil, newServiceError(FailureValidation, opSubmit, "empty_text", nil)
		}
		content = strings.TrimSpace(s.sanitizer.Sanitize(content))
		if content == "" {
			return "", nil, newServiceError(FailureValidation, opSubmit, "empty_text", nil)
		}
		return content, nil, nil
	default:
		return "", nil, newServiceError(FailureValidation, opSubmit, "missing_payload", nil)
	}
}

// List returns every note for the course, newest first.
func (s *Service) List(ctx context.Context, courseSlug string) ([]Note, error) {
	if !s.courses.Contains(courseSlug) {
		return nil, newServiceError(FailureValidation, opList, "unknown_course", nil)
	}

	notes := make([]Note, 0)
	if err := s.db.WithContext(ctx).
		Where("course_slug = ?", courseSlug).
		Order("created_at_s DESC, id DESC").
		Find(&notes).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("course_slug", courseSlug))
		return nil, newServiceError(FailurePersistence, opList, "query_failed", err)
	}

	return notes, nil
}

// Delete removes the metadata record. Only the authoring identity may delete
// a note. The binary object, if any, is deliberately left in storage.
func (s *Service) Delete(ctx context.Context, noteID, requesterID string) error {
	if strings.TrimSpace(requesterID) == "" {
		return newServiceError(FailureValidation, opDelete, "not_authenticated", nil)
	}
	if strings.TrimSpace(noteID) == "" {
		return newServiceError(FailureValidation, opDelete, "missing_note_id", nil)
	}

	var note Note
	err := s.db.WithContext(ctx).Where("id = ?", noteID).Take(&note).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(FailurePersistence, opDelete, "note_not_found", err)
	}
	if err != nil {
		s.logError(opDelete, "record_select_failed", err, zap.String("note_id", noteID))
		return newServiceError(FailurePersistence, opDelete, "record_select_failed", err)
	}

	if note.UserID != requesterID {
		return newServiceError(FailureValidation, opDelete, "not_owner", nil)
	}

	if err := s.db.WithContext(ctx).Where("id = ?", noteID).Delete(&Note{}).Error; err != nil {
		s.logError(opDelete, "record_delete_failed", err, zap.String("note_id", noteID))
		return newServiceError(FailurePersistence, opDelete, "record_delete_failed", err)
	}

	if note.StoragePath != nil {
		// TODO: sweep retained objects once a reconciliation job exists.
		s.logger.Info("stored object retained after note deletion",
			zap.String("note_id", noteID),
			zap.String("storage_path", *note.StoragePath))
	}

	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("notes service error", attrs...)
}
