package notes

import (
	"io"
	"strings"
)

// MaxFileSizeBytes bounds binary payload size (10 MiB).
const MaxFileSizeBytes = 10 * 1024 * 1024

// MIME types accepted for binary payloads.
var allowedMIMETypes = map[string]struct{}{
	"application/pdf": {},
	"text/plain":      {},
}

// Payload is the tagged union of note content: pasted text or an uploaded
// file. Exactly one variant is supplied per submission; the invalid
// "both" and "neither" states are unrepresentable.
type Payload interface {
	isPayload()
}

// TextPayload carries pasted text content.
type TextPayload struct {
	Content string
}

func (TextPayload) isPayload() {}

// BinaryPayload carries an uploaded file.
type BinaryPayload struct {
	Filename  string
	MIMEType  string
	SizeBytes int64
	Data      io.Reader
}

func (BinaryPayload) isPayload() {}

// Note is the persisted metadata record describing a submission. Exactly one
// of Content and FileURL is non-nil; StoragePath is set iff FileURL is.
// Notes are immutable once created: the only mutations are insert and delete.
type Note struct {
	ID               string  `gorm:"column:id;primaryKey;size:190;not null"`
	UserID           string  `gorm:"column:user_id;size:190;not null;index"`
	CourseSlug       string  `gorm:"column:course_slug;size:190;not null;index:idx_notes_course_created,priority:1"`
	Title            string  `gorm:"column:title;size:512;not null"`
	Content          *string `gorm:"column:content;type:text"`
	FileURL          *string `gorm:"column:file_url;size:1024"`
	StoragePath      *string `gorm:"column:storage_path;size:1024"`
	CreatedAtSeconds int64   `gorm:"column:created_at_s;not null;index:idx_notes_course_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// sanitizeFilename replaces every character outside [A-Za-z0-9_.-] with an
// underscore so the original name can ride along in the storage path.
func sanitizeFilename(name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_' || r == '.' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
	if sanitized == "" {
		return "file"
	}
	return sanitized
}
