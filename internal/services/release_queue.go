package services

import (
	"context"
	"time"

	"github.com/cloudnest/backend/internal/blobstore"
	"github.com/cloudnest/backend/pkg/logger"
)

// ReleaseQueue retries blob releases that failed inline, typically the
// compensation after an aborted upload. Items that exhaust their attempts
// are dropped; the GC sweep reclaims whatever the queue could not.
type ReleaseQueue struct {
	blobs       *blobstore.Store
	tasks       chan releaseTask
	maxAttempts int
}

type releaseTask struct {
	hash    string
	attempt int
}

func NewReleaseQueue(blobs *blobstore.Store, size, maxAttempts int) *ReleaseQueue {
	if size < 1 {
		size = 100
	}
	if maxAttempts < 1 {
		maxAttempts = 5
	}
	return &ReleaseQueue{
		blobs:       blobs,
		tasks:       make(chan releaseTask, size),
		maxAttempts: maxAttempts,
	}
}

// Enqueue schedules a release retry. A full queue drops the task rather
// than blocking the request path.
func (q *ReleaseQueue) Enqueue(hash string) {
	select {
	case q.tasks <- releaseTask{hash: hash, attempt: 1}:
	default:
		logger.Warn("release_queue_full", map[string]interface{}{
			"blob_hash": hash,
		})
	}
}

// Start runs the worker until ctx is cancelled.
func (q *ReleaseQueue) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-q.tasks:
				q.process(ctx, task)
			}
		}
	}()
}

func (q *ReleaseQueue) process(ctx context.Context, task releaseTask) {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := q.blobs.Release(opCtx, task.hash)
	cancel()
	if err == nil {
		return
	}

	if task.attempt >= q.maxAttempts {
		logger.Error("release_retries_exhausted", err, map[string]interface{}{
			"blob_hash": task.hash,
			"attempts":  task.attempt,
		})
		return
	}

	backoff := time.Duration(task.attempt) * time.Second
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
		select {
		case q.tasks <- releaseTask{hash: task.hash, attempt: task.attempt + 1}:
		default:
			logger.Warn("release_queue_full", map[string]interface{}{
				"blob_hash": task.hash,
			})
		}
	}
}
