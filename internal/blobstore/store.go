package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/cloudnest/backend/internal/config"
	"github.com/cloudnest/backend/internal/models"
	"github.com/cloudnest/backend/pkg/logger"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound means the hash is unknown or the bytes behind a known
	// hash are missing (corruption).
	ErrNotFound = errors.New("blob not found")

	// ErrUnavailable means object storage kept failing after bounded
	// retries; no metadata was committed for the failed operation.
	ErrUnavailable = errors.New("blob storage unavailable")
)

type BlobRef struct {
	Hash string
	Size int64
}

// Store is the content-addressed blob store: bytes live in an ObjectStore
// keyed by their SHA-256, refcounts live in the blobs table. All refcount
// mutations are atomic SQL increments so concurrent uploads and deletes
// never lose updates.
type Store struct {
	DB      *gorm.DB
	Objects ObjectStore
	Cfg     config.BlobConfig
}

func New(db *gorm.DB, objects ObjectStore, cfg config.BlobConfig) *Store {
	return &Store{DB: db, Objects: objects, Cfg: cfg}
}

func objectName(hash string) string {
	return "blobs/" + hash
}

// Put stores data under its content hash. Identical bytes deduplicate to
// one object: the upsert either inserts a fresh row with refcount 1 or
// atomically increments the existing one, clearing any pending release.
// Bytes are written before the row so a crash leaves at worst an orphan
// object for the sweeper, never a row without bytes.
func (s *Store) Put(ctx context.Context, data []byte, contentType string) (BlobRef, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	size := int64(len(data))

	err := s.withRetry(ctx, func() error {
		return s.Objects.Upload(ctx, objectName(hash), bytes.NewReader(data), size, contentType)
	})
	if err != nil {
		return BlobRef{}, err
	}

	blob := models.Blob{Hash: hash, Size: size, RefCount: 1}
	err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hash"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"ref_count":   gorm.Expr("ref_count + 1"),
			"released_at": nil,
			"updated_at":  time.Now(),
		}),
	}).Create(&blob).Error
	if err != nil {
		return BlobRef{}, err
	}

	return BlobRef{Hash: hash, Size: size}, nil
}

// Get streams the bytes for hash. A known hash with missing bytes is
// reported as ErrNotFound rather than an I/O error so callers can treat
// it as corruption.
func (s *Store) Get(ctx context.Context, hash string) (io.ReadCloser, int64, error) {
	var blob models.Blob
	if err := s.DB.WithContext(ctx).First(&blob, "hash = ?", hash).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, err
	}

	var reader io.ReadCloser
	err := s.withRetry(ctx, func() error {
		var downloadErr error
		reader, downloadErr = s.Objects.Download(ctx, objectName(hash))
		if isObjectMissing(downloadErr) {
			// Missing bytes will not appear on retry.
			return nil
		}
		return downloadErr
	})
	if err != nil {
		return nil, 0, err
	}
	if reader == nil {
		logger.Error("blob_bytes_missing", nil, map[string]interface{}{"hash": hash})
		return nil, 0, ErrNotFound
	}

	return reader, blob.Size, nil
}

// Release decrements the refcount and, when it reaches zero, marks the
// blob for garbage collection. Physical deletion never happens inline; the
// sweeper reclaims the bytes after the grace period so a concurrent Put
// re-referencing the hash is safe.
func (s *Store) Release(ctx context.Context, hash string) error {
	return ReleaseIn(s.DB.WithContext(ctx), hash)
}

// ReleaseIn is Release inside an existing transaction, used by permanent
// delete so the refcount decrement commits atomically with the node
// removal.
func ReleaseIn(tx *gorm.DB, hash string) error {
	res := tx.Model(&models.Blob{}).
		Where("hash = ? AND ref_count > 0", hash).
		Update("ref_count", gorm.Expr("ref_count - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		logger.Warn("blob_release_unknown_hash", map[string]interface{}{"hash": hash})
		return nil
	}

	return tx.Model(&models.Blob{}).
		Where("hash = ? AND ref_count = 0 AND released_at IS NULL", hash).
		Update("released_at", time.Now()).Error
}

// SweepOnce reclaims blobs whose refcount hit zero before the grace
// period cutoff. The row is deleted first under a refcount guard: winning
// that conditional delete is the claim on the bytes, so a hash that got
// re-referenced in the meantime is left alone.
func (s *Store) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.Cfg.GCGracePeriod)

	var candidates []models.Blob
	if err := s.DB.WithContext(ctx).
		Where("ref_count = 0 AND released_at IS NOT NULL AND released_at < ?", cutoff).
		Find(&candidates).Error; err != nil {
		return 0, err
	}

	swept := 0
	for _, blob := range candidates {
		res := s.DB.WithContext(ctx).
			Where("hash = ? AND ref_count = 0", blob.Hash).
			Delete(&models.Blob{})
		if res.Error != nil {
			return swept, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		err := s.withRetry(ctx, func() error {
			return s.Objects.Delete(ctx, objectName(blob.Hash))
		})
		if err != nil {
			// Put the row back so the next sweep retries the byte delete.
			// If a concurrent Put re-created the hash the insert loses and
			// the bytes are live again, which is exactly right.
			reinsert := models.Blob{
				Hash:       blob.Hash,
				Size:       blob.Size,
				RefCount:   0,
				ReleasedAt: blob.ReleasedAt,
			}
			if reErr := s.DB.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&reinsert).Error; reErr != nil {
				logger.Error("blob_sweep_requeue_failed", reErr, map[string]interface{}{
					"hash": blob.Hash,
				})
			}
			logger.Error("blob_sweep_delete_failed", err, map[string]interface{}{
				"hash": blob.Hash,
			})
			continue
		}

		swept++
	}

	if swept > 0 {
		logger.Info("blob_gc_swept", map[string]interface{}{"count": swept})
	}

	return swept, nil
}

// StartSweeper runs SweepOnce on a fixed interval until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.Cfg.GCSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					logger.Error("blob_gc_sweep_failed", err, nil)
				}
			}
		}
	}()
}

// withRetry runs fn with bounded exponential backoff. Exhausting the
// attempts surfaces ErrUnavailable; a cancelled context surfaces the
// context error so callers can map it to a timeout.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	attempts := s.Cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := s.Cfg.RetryBaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}

	logger.Error("blob_storage_retries_exhausted", lastErr, map[string]interface{}{
		"attempts": attempts,
	})
	return ErrUnavailable
}

func isObjectMissing(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}
