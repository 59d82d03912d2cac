package testing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
)

// FakeAssets is an in-memory [services.AssetTransfer]. Downloads are served from
// Files keyed by URL; unknown URLs fail with [shared.ErrNotFound].
type FakeAssets struct {
	mu sync.Mutex

	Files      map[string][]byte
	UploadErr  map[string]error
	Delay      time.Duration
	UploadGate chan struct{}

	Downloads   []string
	Uploads     map[string]int
	inFlight    int
	MaxInFlight int
}

// NewFakeAssets creates a [FakeAssets] serving files.
func NewFakeAssets(files map[string][]byte) *FakeAssets {
	if files == nil {
		files = make(map[string][]byte)
	}
	return &FakeAssets{Files: files, UploadErr: make(map[string]error), Uploads: make(map[string]int)}
}

func (f *FakeAssets) Download(ctx context.Context, url, dest string) (int64, error) {
	f.mu.Lock()
	f.Downloads = append(f.Downloads, url)
	f.inFlight++
	f.MaxInFlight = max(f.MaxInFlight, f.inFlight)
	data, ok := f.Files[url]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if !ok {
		return 0, fmt.Errorf("download %s: %w", url, shared.ErrNotFound)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func (f *FakeAssets) Upload(ctx context.Context, localPath string) (*models.UploadedAsset, error) {
	if f.UploadGate != nil {
		select {
		case <-f.UploadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Uploads[localPath]++
	if err := f.UploadErr[localPath]; err != nil {
		return nil, err
	}
	return &models.UploadedAsset{Type: "file_upload", ID: "upload-" + filepath.Base(localPath)}, nil
}

// UploadCount returns the number of upload calls for localPath.
func (f *FakeAssets) UploadCount(localPath string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Uploads[localPath]
}

// DownloadCount returns the number of download calls.
func (f *FakeAssets) DownloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Downloads)
}
