package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"

	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
)

const (
	copyBufferSize  = 128 << 10
	defaultMaxBytes = 100 << 20
	sniffLength     = 512
)

// HTTPAssetTransfer implements [AssetTransfer]. Downloads use an unauthenticated
// client because asset URLs are pre-signed; uploads use the Notion file upload API.
type HTTPAssetTransfer struct {
	client   *NotionClient
	maxBytes int64
}

// NewAssetTransfer creates an [HTTPAssetTransfer]. maxBytes <= 0 selects the 100 MiB default.
func NewAssetTransfer(client *NotionClient, maxBytes int64) *HTTPAssetTransfer {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTPAssetTransfer{client: client, maxBytes: maxBytes}
}

// Download implements [AssetTransfer]. The file is written next to dest and
// renamed into place once complete; partial files are removed.
func (t *HTTPAssetTransfer) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.client.plain.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: download %s: status %d", shared.ErrAPIRequest, rawURL, resp.StatusCode)
	}
	if resp.ContentLength > t.maxBytes {
		return 0, fmt.Errorf("%w: %d bytes (limit %d)", shared.ErrAssetTooLarge, resp.ContentLength, t.maxBytes)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create asset directory: %w", err)
	}

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("failed to create asset file: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(struct{ io.Writer }{f}, io.LimitReader(resp.Body, t.maxBytes+1), buf)
	closeErr := f.Close()

	switch {
	case err != nil:
		os.Remove(part)
		return n, fmt.Errorf("download %s: %w", rawURL, err)
	case closeErr != nil:
		os.Remove(part)
		return n, fmt.Errorf("download %s: %w", rawURL, closeErr)
	case n > t.maxBytes:
		os.Remove(part)
		return n, fmt.Errorf("%w: more than %d bytes", shared.ErrAssetTooLarge, t.maxBytes)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return n, fmt.Errorf("failed to finalize asset: %w", err)
	}
	return n, nil
}

// Upload implements [AssetTransfer].
func (t *HTTPAssetTransfer) Upload(ctx context.Context, localPath string) (*models.UploadedAsset, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAssetUploadFailed, err)
	}
	if info.Size() > t.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", shared.ErrAssetTooLarge, localPath, info.Size(), t.maxBytes)
	}

	contentType, err := SniffContentType(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAssetUploadFailed, err)
	}
	name := filepath.Base(localPath)

	var created struct {
		ID string `json:"id"`
	}
	body := map[string]any{"filename": name, "content_type": contentType}
	if err := t.client.do(ctx, http.MethodPost, "/v1/file_uploads", body, &created); err != nil {
		return nil, uploadError(name, err)
	}

	enc := func() (io.Reader, string, error) { return multipartFile(localPath, name, contentType) }
	if err := t.client.send(ctx, http.MethodPost, "/v1/file_uploads/"+url.PathEscape(created.ID)+"/send", enc, nil); err != nil {
		return nil, uploadError(name, err)
	}

	return &models.UploadedAsset{Type: "file_upload", ID: created.ID}, nil
}

func uploadError(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, shared.ErrAuthFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", shared.ErrAssetUploadFailed, name, err)
}

// multipartFile streams localPath as the "file" field of a multipart form.
func multipartFile(localPath, name, contentType string) (io.Reader, string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer f.Close()
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType(), nil
}

// SniffContentType detects the MIME type of a file from its first 512 bytes,
// falling back to the extension when the content is not recognized.
func SniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}

	detected := http.DetectContentType(head[:n])
	if detected == "application/octet-stream" || detected == "text/plain; charset=utf-8" {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			return byExt, nil
		}
	}
	return detected, nil
}
