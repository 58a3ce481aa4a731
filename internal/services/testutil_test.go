package services

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cloudnest/backend/internal/blobstore"
	"github.com/cloudnest/backend/internal/config"
	"github.com/cloudnest/backend/internal/models"
	"github.com/cloudnest/backend/pkg/logger"
	"github.com/glebarez/sqlite"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"
)

var loggerOnce sync.Once

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	loggerOnce.Do(func() {
		logger.Init()
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

	return db
}

// fakeObjectStore is a map-backed object store. failPuts and failDeletes
// simulate outages for saga and GC tests.
type fakeObjectStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failPuts    bool
	failDeletes bool
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (f *fakeObjectStore) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts {
		return minio.ErrorResponse{Code: "SlowDown", Message: "simulated outage"}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[objectName] = data
	return nil
}

func (f *fakeObjectStore) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectName]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Message: "object not found"}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeObjectStore) Delete(ctx context.Context, objectName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes {
		return minio.ErrorResponse{Code: "SlowDown", Message: "simulated outage"}
	}
	delete(f.objects, objectName)
	return nil
}

func (f *fakeObjectStore) EnsureBucket(ctx context.Context) error {
	return nil
}

func (f *fakeObjectStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func testBlobConfig() config.BlobConfig {
	return config.BlobConfig{
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		OpTimeout:      5 * time.Second,
		GCGracePeriod:  0,
	}
}

type serviceHarness struct {
	db        *gorm.DB
	objects   *fakeObjectStore
	blobs     *blobstore.Store
	access    *AccessService
	namespace *NamespaceService
}

func setupNamespace(t *testing.T) *serviceHarness {
	return setupNamespaceDepth(t, 64)
}

func setupNamespaceDepth(t *testing.T, maxDepth int) *serviceHarness {
	t.Helper()

	db := setupServiceTestDB(t)
	objects := newFakeObjectStore()
	blobs := blobstore.New(db, objects, testBlobConfig())
	access := NewAccessService(db, maxDepth)
	namespace := NewNamespaceService(db, blobs, access, nil, maxDepth)

	return &serviceHarness{db: db, objects: objects, blobs: blobs, access: access, namespace: namespace}
}

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		Email:        email,
		DisplayName:  "Test User",
		Role:         models.UserRoleUser,
		AuthProvider: models.AuthProviderLocal,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating user %s: %v", email, err)
	}
	return user
}

func mustCode(t *testing.T, err error, want Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	if got := CodeOf(err); got != want {
		t.Fatalf("expected code %s, got %s (%v)", want, got, err)
	}
}
