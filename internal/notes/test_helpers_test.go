package notes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"gorm.io/gorm"

	"github.com/studyshelf/coursenotes/backend/internal/courses"
	"github.com/studyshelf/coursenotes/backend/internal/storage"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type countingStore struct {
	inner storage.ObjectStore
	puts  int
}

func (c *countingStore) Put(ctx context.Context, objectPath string, payload io.Reader) error {
	c.puts++
	return c.inner.Put(ctx, objectPath, payload)
}

func (c *countingStore) PublicURL(objectPath string) string {
	return c.inner.PublicURL(objectPath)
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, io.Reader) error {
	return errors.New("disk full")
}

func (failingStore) PublicURL(objectPath string) string {
	return "http://localhost:8080/files/" + objectPath
}

func newTestService(t *testing.T, ids []string) (*Service, *gorm.DB, *countingStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Note{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	diskStore, err := storage.NewDiskStore(storage.DiskStoreConfig{
		Filesystem: afero.NewMemMapFs(),
		BaseURL:    "http://localhost:8080/files",
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	store := &countingStore{inner: diskStore}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Storage:    store,
		Courses:    courses.NewRegistry(),
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		IDProvider: &staticIDGenerator{ids: ids},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db, store
}

func mustSubmit(t *testing.T, service *Service, request SubmissionRequest) Note {
	t.Helper()
	note, err := service.Submit(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}
	return note
}

func assertServiceError(t *testing.T, err error, kind FailureKind, code string) {
	t.Helper()
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected *ServiceError, got %v", err)
	}
	if serviceErr.Kind() != kind {
		t.Fatalf("expected failure kind %q, got %q", kind, serviceErr.Kind())
	}
	if serviceErr.Code() != code {
		t.Fatalf("expected error code %q, got %q", code, serviceErr.Code())
	}
}
