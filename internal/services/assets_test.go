package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/nbx/internal/shared"
)

func TestAssetTransfer(t *testing.T) {
	ctx := context.Background()
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

	t.Run("Download", func(t *testing.T) {
		var sawAuth bool
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			sawAuth = r.Header.Get("Authorization") != ""
			w.Write(png)
		}, 0)
		transfer := NewAssetTransfer(client, 1<<20)

		dest := filepath.Join(t.TempDir(), "dump", "b1.png")
		n, err := transfer.Download(ctx, client.baseURL+"/img.png?sig=1", dest)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != int64(len(png)) {
			t.Errorf("expected %d bytes, got %d", len(png), n)
		}
		if sawAuth {
			t.Error("signed asset URLs must not receive the API token")
		}
		if got, _ := os.ReadFile(dest); !bytes.Equal(got, png) {
			t.Error("downloaded content differs")
		}
		if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
			t.Error("partial file left behind")
		}
	})

	t.Run("Download too large", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Transfer-Encoding", "chunked")
			w.Write(bytes.Repeat([]byte("x"), 2048))
		}, 0)
		transfer := NewAssetTransfer(client, 1024)

		dest := filepath.Join(t.TempDir(), "big.bin")
		_, err := transfer.Download(ctx, client.baseURL+"/big", dest)
		if !errors.Is(err, shared.ErrAssetTooLarge) {
			t.Fatalf("expected ErrAssetTooLarge, got %v", err)
		}
		if _, err := os.Stat(dest); !os.IsNotExist(err) {
			t.Error("oversized download should not leave a file")
		}
	})

	t.Run("Upload", func(t *testing.T) {
		var sentType, sentName string
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.URL.Path == "/v1/file_uploads":
				w.Write([]byte(`{"id":"up1","status":"pending"}`))
			case r.URL.Path == "/v1/file_uploads/up1/send":
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Errorf("bad multipart body: %v", err)
				}
				file, header, err := r.FormFile("file")
				if err == nil {
					io.Copy(io.Discard, file)
					sentName = header.Filename
					sentType = header.Header.Get("Content-Type")
				}
				w.Write([]byte(`{"id":"up1","status":"uploaded"}`))
			default:
				t.Errorf("unexpected path %s", r.URL.Path)
			}
		}, 0)
		transfer := NewAssetTransfer(client, 1<<20)

		path := filepath.Join(t.TempDir(), "b1.bin")
		if err := os.WriteFile(path, png, 0o644); err != nil {
			t.Fatal(err)
		}

		ref, err := transfer.Upload(ctx, path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ref.ID != "up1" || ref.Type != "file_upload" {
			t.Errorf("unexpected ref %+v", ref)
		}
		if sentName != "b1.bin" || sentType != "image/png" {
			t.Errorf("expected sniffed image/png b1.bin, got %q %q", sentType, sentName)
		}
	})

	t.Run("Upload failure", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":"validation_error","message":"bad"}`))
		}, 0)
		transfer := NewAssetTransfer(client, 1<<20)

		path := filepath.Join(t.TempDir(), "note.txt")
		os.WriteFile(path, []byte("hello"), 0o644)

		if _, err := transfer.Upload(ctx, path); !errors.Is(err, shared.ErrAssetUploadFailed) {
			t.Errorf("expected ErrAssetUploadFailed, got %v", err)
		}
	})

	t.Run("Upload missing file", func(t *testing.T) {
		transfer := NewAssetTransfer(NewNotionClient(NotionOpts{}), 0)
		_, err := transfer.Upload(ctx, filepath.Join(t.TempDir(), "nope.png"))
		if err == nil || !strings.Contains(err.Error(), "asset upload failed") {
			t.Errorf("expected upload failure, got %v", err)
		}
	})
}

func TestSniffContentType(t *testing.T) {
	dir := t.TempDir()

	tc := []struct {
		name    string
		file    string
		content []byte
		want    string
	}{
		{name: "png magic", file: "a.bin", content: []byte("\x89PNG\r\n\x1a\n0000"), want: "image/png"},
		{name: "pdf magic", file: "a.dat", content: []byte("%PDF-1.7\n"), want: "application/pdf"},
		{name: "extension fallback", file: "a.json", content: []byte(`{"a":1}`), want: "application/json"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			os.WriteFile(path, tt.content, 0o644)

			got, err := SniffContentType(path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
