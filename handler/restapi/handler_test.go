package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gotest.tools/v3/assert"

	"github.com/bulletin/board/models"
	"github.com/bulletin/board/service/postService"
	"github.com/bulletin/board/service/schemaService"
	"github.com/bulletin/board/service/uploadService"
	"github.com/bulletin/board/service/userService"
)

const (
	testMaxBodySize = 64 << 10
	testMaxFileSize = 2 << 10
	testMaxFiles    = 3
	testPassword    = "correct horse"
)

var testSecret = []byte("test secret")

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	return log.NewEntry(logger)
}

// testAPI - API over a file store and an upload directory inside a test temp dir
type testAPI struct {
	router    *mux.Router
	store     *postService.FileStore
	uploadDir string
}

func newTestAPI(t *testing.T, enforced bool) *testAPI {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	evolver := schemaService.NewEvolver(10, 100, logger)
	store, err := postService.NewFileStore(filepath.Join(dir, "posts.json"), evolver, logger)
	assert.NilError(t, err)

	uploadDir := filepath.Join(dir, "uploads")
	uploader, err := uploadService.NewUploader(uploadDir, "", testMaxFileSize, testMaxFiles, logger)
	assert.NilError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	assert.NilError(t, err)
	accounts := userService.NewAccounts([]models.Account{
		{Username: "admin", PasswordHash: string(hash), Role: models.RoleAdmin},
		{Username: "kim", PasswordHash: string(hash), Role: models.RoleAuthor},
	})

	const userProperty = "user"
	handlers := &Handlers{
		Posts:         NewPostAPIHandler(store, uploader, testMaxBodySize, false, logger),
		Comments:      NewCommentAPIHandler(store, false, logger),
		Users:         NewUserAPIHandler(accounts, testSecret, userProperty, enforced, false, logger),
		JWTMiddleware: NewJWTMiddleware(testSecret, userProperty, logger),
	}
	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return &testAPI{router: router, store: store, uploadDir: uploadDir}
}

func (a *testAPI) do(t *testing.T, method, target string, body io.Reader, contentType, token string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, body)
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	a.router.ServeHTTP(recorder, request)
	return recorder
}

func (a *testAPI) doJSON(t *testing.T, method, target string, payload interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(payload)
	assert.NilError(t, err)
	return a.do(t, method, target, bytes.NewReader(encoded), "application/json", token)
}

// uploadedFiles - names of files currently in the upload directory
func (a *testAPI) uploadedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(a.uploadDir)
	assert.NilError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

type testFile struct {
	name        string
	contentType string
	content     string
}

// multipartBody - form with plain fields and files under the "media" field
func multipartBody(t *testing.T, fields map[string]string, files ...testFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, value := range fields {
		assert.NilError(t, writer.WriteField(name, value))
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename="%s"`, file.name))
		header.Set("Content-Type", file.contentType)
		part, err := writer.CreatePart(header)
		assert.NilError(t, err)
		_, err = part.Write([]byte(file.content))
		assert.NilError(t, err)
	}
	assert.NilError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func decodePost(t *testing.T, recorder *httptest.ResponseRecorder) models.Post {
	t.Helper()
	var post models.Post
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &post), recorder.Body.String())
	return post
}

func decodeError(t *testing.T, recorder *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var response models.ErrorResponse
	assert.NilError(t, json.Unmarshal(recorder.Body.Bytes(), &response), recorder.Body.String())
	return response
}

func TestParsePostID(t *testing.T) {
	cases := []struct {
		raw   string
		id    int64
		valid bool
	}{
		{"1", 1, true},
		{"42", 42, true},
		{"", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"abc", 0, false},
		{"1.5", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, c := range cases {
		id, valid := ParsePostID(c.raw)
		assert.Equal(t, valid, c.valid, c.raw)
		assert.Equal(t, id, c.id, c.raw)
	}
}

func TestTechnicalErrorHidesDetails(t *testing.T) {
	recorder := httptest.NewRecorder()
	errorResponder{hideDetails: true, logger: testLogger()}.
		respondWithServiceError(recorder, fmt.Errorf("connection refused"), "retrieve posts")
	assert.Equal(t, recorder.Code, http.StatusInternalServerError)
	response := decodeError(t, recorder)
	assert.Equal(t, response.Error, TechnicalError)
	assert.Equal(t, response.Message, "")

	recorder = httptest.NewRecorder()
	errorResponder{logger: testLogger()}.
		respondWithServiceError(recorder, fmt.Errorf("connection refused"), "retrieve posts")
	assert.Equal(t, decodeError(t, recorder).Message, "connection refused")
}
