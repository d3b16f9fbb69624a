package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/studyshelf/coursenotes/backend/internal/accounts"
	"github.com/studyshelf/coursenotes/backend/internal/auth"
	"github.com/studyshelf/coursenotes/backend/internal/courses"
	"github.com/studyshelf/coursenotes/backend/internal/notes"
	"github.com/studyshelf/coursenotes/backend/internal/server"
	"github.com/studyshelf/coursenotes/backend/internal/session"
	"github.com/studyshelf/coursenotes/backend/internal/storage"
)

const (
	integrationSigningSecret = "integration-secret"
	jsonContentType          = "application/json"
	ownerEmail               = "owner@example.edu"
	ownerPassword            = "correct-horse-battery"
	intruderEmail            = "intruder@example.edu"
	intruderPassword         = "staple-horse-correct"
)

type sessionEnvelope struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

type noteEnvelope struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	CourseSlug  string  `json:"course_slug"`
	Title       string  `json:"title"`
	Content     *string `json:"content"`
	FileURL     *string `json:"file_url"`
	StoragePath *string `json:"storage_path"`
}

func TestAuthAndNotesFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:integration?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&accounts.Account{}, &notes.Note{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	objectFs := afero.NewBasePathFs(afero.NewMemMapFs(), "/objects")
	objectStore, err := storage.NewDiskStore(storage.DiskStoreConfig{
		Filesystem: objectFs,
		BaseURL:    "http://localhost:8080/files",
	})
	if err != nil {
		testContext.Fatalf("failed to construct store: %v", err)
	}

	authStream := session.NewStream()
	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Database:   db,
		IDProvider: notes.NewUUIDProvider(),
		Sessions:   authStream,
		BcryptCost: bcrypt.MinCost,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build account service: %v", err)
	}

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(integrationSigningSecret),
		Issuer:        "coursenotes-auth",
		Audience:      "coursenotes-api",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token issuer: %v", err)
	}

	registry := courses.NewRegistry()
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Storage:    objectStore,
		Courses:    registry,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build notes service: %v", err)
	}

	sessionResolver, err := session.NewResolver(session.ResolverConfig{
		Stream: authStream,
		Fetcher: session.FetcherFunc(func(context.Context) (*accounts.Identity, error) {
			return nil, nil
		}),
		Logger: zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to construct resolver: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts: accountService,
		Tokens:   tokenIssuer,
		Notes:    notesService,
		Courses:  registry,
		Sessions: sessionResolver,
		Files:    afero.NewHttpFs(objectFs),
		Logger:   zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	ownerSession := mustSignUp(testContext, testServer.URL, ownerEmail, ownerPassword)
	intruderSession := mustSignUp(testContext, testServer.URL, intruderEmail, intruderPassword)

	textNote := mustCreateTextNote(testContext, testServer.URL, ownerSession.AccessToken,
		"dsa", "Week 3 Sorting", "Merge sort runs in O(n log n).")
	if textNote.UserID != ownerSession.User.ID {
		testContext.Fatalf("text note attributed to %q, expected %q", textNote.UserID, ownerSession.User.ID)
	}
	if textNote.FileURL != nil {
		testContext.Fatalf("text note should not carry a file URL, got %q", *textNote.FileURL)
	}

	fileNote := mustCreateFileNote(testContext, testServer.URL, ownerSession.AccessToken,
		"dsa", "Lecture Slides", "slides.pdf", "application/pdf", []byte("%PDF-1.4 integration slides"))
	if fileNote.FileURL == nil || fileNote.StoragePath == nil {
		testContext.Fatalf("file note missing storage fields: %+v", fileNote)
	}

	storedObject, err := afero.ReadFile(objectFs, *fileNote.StoragePath)
	if err != nil {
		testContext.Fatalf("failed to read stored object %q: %v", *fileNote.StoragePath, err)
	}
	if !bytes.Equal(storedObject, []byte("%PDF-1.4 integration slides")) {
		testContext.Fatalf("stored object content mismatch: %q", storedObject)
	}

	servedURL := testServer.URL + "/files/" + *fileNote.StoragePath
	servedResponse, err := http.Get(servedURL)
	if err != nil {
		testContext.Fatalf("failed to fetch served file: %v", err)
	}
	servedBody, err := io.ReadAll(servedResponse.Body)
	servedResponse.Body.Close()
	if err != nil {
		testContext.Fatalf("failed to read served file: %v", err)
	}
	if servedResponse.StatusCode != http.StatusOK {
		testContext.Fatalf("expected ok status serving file, got %d", servedResponse.StatusCode)
	}
	if !bytes.Equal(servedBody, []byte("%PDF-1.4 integration slides")) {
		testContext.Fatalf("served file content mismatch: %q", servedBody)
	}

	listed := mustListNotes(testContext, testServer.URL, ownerSession.AccessToken, "dsa")
	if len(listed) != 2 {
		testContext.Fatalf("expected two notes listed, got %d", len(listed))
	}

	intruderDelete := mustDeleteNote(testContext, testServer.URL, intruderSession.AccessToken, textNote.ID)
	if intruderDelete != http.StatusForbidden {
		testContext.Fatalf("expected forbidden status for non-owner delete, got %d", intruderDelete)
	}

	ownerDelete := mustDeleteNote(testContext, testServer.URL, ownerSession.AccessToken, textNote.ID)
	if ownerDelete != http.StatusNoContent {
		testContext.Fatalf("expected no-content status for owner delete, got %d", ownerDelete)
	}

	repeatDelete := mustDeleteNote(testContext, testServer.URL, ownerSession.AccessToken, textNote.ID)
	if repeatDelete != http.StatusNotFound {
		testContext.Fatalf("expected not-found status for repeat delete, got %d", repeatDelete)
	}

	remaining := mustListNotes(testContext, testServer.URL, ownerSession.AccessToken, "dsa")
	if len(remaining) != 1 || remaining[0].ID != fileNote.ID {
		testContext.Fatalf("expected only the file note to remain, got %+v", remaining)
	}
}

func mustSignUp(testContext *testing.T, baseURL, email, password string) sessionEnvelope {
	testContext.Helper()

	payload := fmt.Sprintf(`{"email":%q,"password":%q}`, email, password)
	response, err := http.Post(baseURL+"/auth/signup", jsonContentType, strings.NewReader(payload))
	if err != nil {
		testContext.Fatalf("sign-up request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(response.Body)
		testContext.Fatalf("sign-up returned %d: %s", response.StatusCode, body)
	}
	var envelope sessionEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		testContext.Fatalf("failed to decode sign-up response: %v", err)
	}
	if envelope.AccessToken == "" || envelope.TokenType != "Bearer" {
		testContext.Fatalf("unexpected session envelope: %+v", envelope)
	}
	return envelope
}

func mustCreateTextNote(testContext *testing.T, baseURL, token, slug, title, content string) noteEnvelope {
	testContext.Helper()

	payload := fmt.Sprintf(`{"title":%q,"content":%q}`, title, content)
	request, err := http.NewRequest(http.MethodPost, baseURL+"/courses/"+slug+"/notes", strings.NewReader(payload))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	request.Header.Set("Authorization", "Bearer "+token)

	return doCreateNote(testContext, request)
}

func mustCreateFileNote(testContext *testing.T, baseURL, token, slug, title, filename, mimeType string, data []byte) noteEnvelope {
	testContext.Helper()

	var buffer bytes.Buffer
	writer := multipart.NewWriter(&buffer)
	if err := writer.WriteField("title", title); err != nil {
		testContext.Fatalf("failed to write title field: %v", err)
	}
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)},
		"Content-Type":        {mimeType},
	})
	if err != nil {
		testContext.Fatalf("failed to create file part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		testContext.Fatalf("failed to write file body: %v", err)
	}
	if err := writer.Close(); err != nil {
		testContext.Fatalf("failed to close multipart writer: %v", err)
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/courses/"+slug+"/notes", &buffer)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())
	request.Header.Set("Authorization", "Bearer "+token)

	return doCreateNote(testContext, request)
}

func doCreateNote(testContext *testing.T, request *http.Request) noteEnvelope {
	testContext.Helper()

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("create-note request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(response.Body)
		testContext.Fatalf("create-note returned %d: %s", response.StatusCode, body)
	}
	var envelope noteEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		testContext.Fatalf("failed to decode note response: %v", err)
	}
	return envelope
}

func mustListNotes(testContext *testing.T, baseURL, token, slug string) []noteEnvelope {
	testContext.Helper()

	request, err := http.NewRequest(http.MethodGet, baseURL+"/courses/"+slug+"/notes", http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("list-notes request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(response.Body)
		testContext.Fatalf("list-notes returned %d: %s", response.StatusCode, body)
	}
	var envelope struct {
		Notes []noteEnvelope `json:"notes"`
	}
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		testContext.Fatalf("failed to decode list response: %v", err)
	}
	return envelope.Notes
}

func mustDeleteNote(testContext *testing.T, baseURL, token, noteID string) int {
	testContext.Helper()

	request, err := http.NewRequest(http.MethodDelete, baseURL+"/notes/"+noteID, http.NoBody)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("delete-note request failed: %v", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body)
	return response.StatusCode
}
