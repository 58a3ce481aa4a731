package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cloudnest/backend/internal/blobstore"
	"github.com/cloudnest/backend/internal/config"
	"github.com/cloudnest/backend/internal/middleware"
	"github.com/cloudnest/backend/internal/models"
	"github.com/cloudnest/backend/internal/services"
	"github.com/cloudnest/backend/pkg/logger"
	"github.com/cloudnest/backend/pkg/utils"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fiber.App
	db      *gorm.DB
	blobs   *blobstore.Store
	objects *memObjectStore
}

var testSetupOnce sync.Once

// memObjectStore keeps blob bytes in a map so handler tests run without a
// MinIO instance. failUploads makes every Upload fail for outage tests.
type memObjectStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failUploads bool
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: map[string][]byte{}}
}

func (m *memObjectStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUploads {
		return minio.ErrorResponse{Code: "SlowDown", Message: "simulated outage"}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.objects[objectName] = data
	return nil
}

func (m *memObjectStore) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectName]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Message: "object not found"}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memObjectStore) Delete(ctx context.Context, objectName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectName)
	return nil
}

func (m *memObjectStore) EnsureBucket(ctx context.Context) error {
	return nil
}

func (m *memObjectStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureJWT("test-secret", 24)
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.User{},
		&models.Node{},
		&models.Blob{},
		&models.Share{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	objects := newMemObjectStore()
	blobStore := blobstore.New(db, objects, config.BlobConfig{
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		OpTimeout:      5 * time.Second,
		GCGracePeriod:  0,
	})

	cfg := &config.Config{
		Server: config.ServerConfig{
			FrontendURL: "http://localhost:3001",
		},
	}

	accessService := services.NewAccessService(db, 64)
	releaseQueue := services.NewReleaseQueue(blobStore, 10, 3)
	namespaceService := services.NewNamespaceService(db, blobStore, accessService, releaseQueue, 64)

	authHandler := NewAuthHandler(db)
	ssoHandler := NewSSOHandler(db, cfg)
	filesHandler := NewFilesHandler(namespaceService)
	foldersHandler := NewFoldersHandler(namespaceService)
	nodesHandler := NewNodesHandler(namespaceService)
	sharesHandler := NewSharesHandler(namespaceService)
	authMiddleware := middleware.NewAuthMiddleware(db)

	app := fiber.New(fiber.Config{BodyLimit: 100 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Get("/sso/providers", ssoHandler.ListProviders)
	authRoutes.Get("/sso/oauth/:provider", ssoHandler.GetLoginRedirect)
	authRoutes.Get("/sso/oauth/:provider/callback", ssoHandler.HandleOAuthCallback)

	folderRoutes := api.Group("/folders", authMiddleware.RequireAuth)
	folderRoutes.Post("/", foldersHandler.Create)
	folderRoutes.Get("/:id/children", foldersHandler.ListChildren)
	folderRoutes.Post("/:id/share", sharesHandler.ShareFolder)
	folderRoutes.Get("/:id/shares", sharesHandler.ListFolderShares)
	folderRoutes.Delete("/:id/share/:email", sharesHandler.UnshareFolder)

	fileRoutes := api.Group("/files", authMiddleware.RequireAuth)
	fileRoutes.Post("/upload", filesHandler.Upload)
	fileRoutes.Get("/", filesHandler.ListRoot)
	fileRoutes.Get("/:id/download", filesHandler.Download)
	fileRoutes.Get("/:id", filesHandler.Get)

	nodeRoutes := api.Group("/nodes", authMiddleware.RequireAuth)
	nodeRoutes.Patch("/:id", nodesHandler.Update)
	nodeRoutes.Get("/:id/path", nodesHandler.Path)
	nodeRoutes.Delete("/:id/permanent", nodesHandler.PermanentDelete)
	nodeRoutes.Delete("/:id", nodesHandler.Delete)
	nodeRoutes.Post("/:id/restore", nodesHandler.Restore)

	api.Get("/shared", authMiddleware.RequireAuth, sharesHandler.ListSharedWithMe)
	api.Get("/search", authMiddleware.RequireAuth, filesHandler.Search)
	api.Get("/trash", authMiddleware.RequireAuth, filesHandler.ListTrash)

	return &testEnv{app: app, db: db, blobs: blobStore, objects: objects}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  "Test User",
		Role:         role,
		AuthProvider: models.AuthProviderLocal,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func performUpload(t *testing.T, app *fiber.App, filename string, content []byte, parentID string, headers map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed creating form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed writing form file: %v", err)
	}
	if parentID != "" {
		if err := writer.WriteField("parentID", parentID); err != nil {
			t.Fatalf("failed writing parentID field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed closing multipart writer: %v", err)
	}

	requestHeaders := map[string]string{"Content-Type": writer.FormDataContentType()}
	for key, value := range headers {
		requestHeaders[key] = value
	}

	return performRequest(t, app, http.MethodPost, "/api/files/upload", &buf, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func dataMap(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %+v", body)
	}
	return data
}

func dataList(t *testing.T, body map[string]any) []any {
	t.Helper()
	data, ok := body["data"].([]any)
	if !ok {
		t.Fatalf("expected data array, got %+v", body)
	}
	return data
}

func nodeID(t *testing.T, body map[string]any) string {
	t.Helper()
	id, ok := dataMap(t, body)["id"].(string)
	if !ok || id == "" {
		t.Fatalf("expected node id in response, got %+v", body)
	}
	return id
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertEnvelopeError(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["error"].(string); got != expected {
		t.Fatalf("expected error %q, got %q", expected, got)
	}
}

func assertErrorCode(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["code"].(string); got != expected {
		t.Fatalf("expected error code %q, got %q (%+v)", expected, got, body)
	}
}

func createFolder(t *testing.T, env *testEnv, token, name, parentID string) string {
	t.Helper()

	payload := map[string]any{"name": name}
	if parentID != "" {
		payload["parentID"] = parentID
	}
	resp := performJSONRequest(t, env.app, http.MethodPost, "/api/folders/", payload, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)
	return nodeID(t, decodeJSONMap(t, resp))
}

func uploadFile(t *testing.T, env *testEnv, token, name string, content []byte, parentID string) string {
	t.Helper()

	resp := performUpload(t, env.app, name, content, parentID, authHeaders(token))
	assertStatus(t, resp, fiber.StatusCreated)
	return nodeID(t, decodeJSONMap(t, resp))
}
