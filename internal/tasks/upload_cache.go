package tasks

import (
	"context"
	"sync"

	"github.com/desertthunder/nbx/internal/models"
)

// UploadFunc uploads a local file to the remote.
type UploadFunc func(ctx context.Context, localPath string) (*models.UploadedAsset, error)

// UploadCache remembers remote references of uploaded files by local path for the
// lifetime of the process. Concurrent requests for the same path share one upload.
// Failed uploads are handed to the requests waiting on them but not remembered,
// so a later request tries again.
type UploadCache struct {
	mu      sync.Mutex
	entries map[string]*uploadEntry
}

type uploadEntry struct {
	done chan struct{}
	ref  *models.UploadedAsset
	err  error
}

// NewUploadCache creates an empty cache.
func NewUploadCache() *UploadCache {
	return &UploadCache{entries: make(map[string]*uploadEntry)}
}

// Get returns the cached reference for localPath, calling upload at most once
// per path while it keeps succeeding.
func (c *UploadCache) Get(ctx context.Context, localPath string, upload UploadFunc) (*models.UploadedAsset, error) {
	c.mu.Lock()
	if e, ok := c.entries[localPath]; ok {
		c.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return e.ref, e.err
	}

	e := &uploadEntry{done: make(chan struct{})}
	c.entries[localPath] = e
	c.mu.Unlock()

	e.ref, e.err = upload(ctx, localPath)
	if e.err != nil {
		c.mu.Lock()
		if c.entries[localPath] == e {
			delete(c.entries, localPath)
		}
		c.mu.Unlock()
	}
	close(e.done)
	return e.ref, e.err
}

// Len returns the number of cached or in-flight uploads.
func (c *UploadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
