package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/skydrive/backend/internal/models"
	"github.com/skydrive/backend/pkg/utils"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

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

	if err := db.AutoMigrate(&models.User{}, &models.File{}); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	return db
}

func createAccount(t *testing.T, db *gorm.DB, email string, verified bool) *models.User {
	t.Helper()

	hash, err := utils.HashPassword("password123")
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    "Test",
		LastName:     "User",
		Verified:     verified,
		StorageTotal: models.DefaultStorageTotal,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test account: %v", err)
	}
	return user
}

// fakeBlobStore keeps objects in memory and signs predictable URLs.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	failUpload bool
	failDelete bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return fmt.Errorf("blob store unavailable")
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return fmt.Errorf("blob store unavailable")
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return "", fmt.Errorf("object %q not found", key)
	}
	return "https://blobs.test/" + key + "?expires=" + expiry.String(), nil
}

func (f *fakeBlobStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// recordingMailer captures dispatched emails; sends signal on a channel so
// tests can wait for the detached dispatch goroutine.
type recordingMailer struct {
	mu         sync.Mutex
	recipients []string
	tokens     []string
	sent       chan struct{}
	failSend   bool
}

func newRecordingMailer() *recordingMailer {
	return &recordingMailer{sent: make(chan struct{}, 16)}
}

func (m *recordingMailer) record(email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSend {
		m.sent <- struct{}{}
		return fmt.Errorf("smtp unavailable")
	}
	m.recipients = append(m.recipients, email)
	m.tokens = append(m.tokens, token)
	m.sent <- struct{}{}
	return nil
}

func (m *recordingMailer) SendVerificationEmail(ctx context.Context, email, token string) error {
	return m.record(email, token)
}

func (m *recordingMailer) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	return m.record(email, token)
}

func (m *recordingMailer) sendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recipients)
}

func (m *recordingMailer) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-m.sent:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for email dispatch")
	}
}

func loadUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		t.Fatalf("failed loading user %s: %v", email, err)
	}
	return &user
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}
