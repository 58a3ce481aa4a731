package services

import (
	"context"
	"testing"
	"time"

	"github.com/cloudnest/backend/internal/models"
)

func TestReleaseQueueProcessesRelease(t *testing.T) {
	h := setupNamespace(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ref, err := h.blobs.Put(ctx, []byte("queued for release"), "text/plain")
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}

	queue := NewReleaseQueue(h.blobs, 10, 3)
	queue.Start(ctx)
	queue.Enqueue(ref.Hash)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var blob models.Blob
		if err := h.db.First(&blob, "hash = ?", ref.Hash).Error; err != nil {
			t.Fatalf("failed loading blob: %v", err)
		}
		if blob.RefCount == 0 && blob.ReleasedAt != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("release not processed in time, refCount=%d", blob.RefCount)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReleaseQueueDropsWhenFull(t *testing.T) {
	h := setupNamespace(t)

	// No worker started: the buffer fills and further enqueues drop
	// without blocking the caller.
	queue := NewReleaseQueue(h.blobs, 1, 3)
	queue.Enqueue("hash-one")

	done := make(chan struct{})
	go func() {
		queue.Enqueue("hash-two")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue on a full queue must not block")
	}
}
