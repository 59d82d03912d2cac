package tasks

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
	tu "github.com/desertthunder/nbx/internal/testing"
)

func writeCapture(t *testing.T, root, name string, tree, manifest any) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := formatter.WriteCapturePair(dir, tree, manifest); err != nil {
		t.Fatalf("WriteCapturePair() error = %v", err)
	}
}

func TestValidateDumpName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "plain name", input: "Notes_20240102_030405"},
		{name: "suffixed name", input: "Notes_20240102_030405_2"},
		{name: "empty", input: "", wantErr: true},
		{name: "dot", input: ".", wantErr: true},
		{name: "parent traversal", input: "..", wantErr: true},
		{name: "embedded traversal", input: "a..b", wantErr: true},
		{name: "slash", input: "a/b", wantErr: true},
		{name: "backslash", input: `a\b`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDumpName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDumpName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, shared.ErrInvalidDumpName) {
				t.Errorf("error should wrap ErrInvalidDumpName, got %v", err)
			}
		})
	}
}

func TestListDumps(t *testing.T) {
	t.Run("missing root is empty", func(t *testing.T) {
		dumps, err := ListDumps(filepath.Join(t.TempDir(), "absent"))
		if err != nil || len(dumps) != 0 {
			t.Errorf("ListDumps() = %v, %v", dumps, err)
		}
	})

	t.Run("reports readiness and kind", func(t *testing.T) {
		root := t.TempDir()
		writeCapture(t, root, "b_page", models.TreeDocument{ID: rootID, Kind: models.KindRoot}, models.Manifest{RootID: rootID})
		writeCapture(t, root, "a_db", models.DatabaseDocument{ID: dbID, Kind: models.KindDatabase}, models.DatabaseManifest{DatabaseID: dbID})
		if err := os.Mkdir(filepath.Join(root, "c_partial"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Mkdir(filepath.Join(root, ".hidden"), 0o755); err != nil {
			t.Fatal(err)
		}
		tu.MustWriteFile(t, filepath.Join(root, "stray.txt"), []byte("x"))

		dumps, err := ListDumps(root)
		if err != nil {
			t.Fatalf("ListDumps() error = %v", err)
		}
		if len(dumps) != 3 {
			t.Fatalf("dumps = %+v, want 3", dumps)
		}

		want := []struct {
			name  string
			kind  string
			ready bool
		}{
			{"a_db", models.KindDatabase, true},
			{"b_page", models.KindRoot, true},
			{"c_partial", "", false},
		}
		for i, w := range want {
			d := dumps[i]
			if d.Name != w.name || d.Kind != w.kind || d.Ready != w.ready {
				t.Errorf("dumps[%d] = %+v, want %+v", i, d, w)
			}
		}
	})
}

func TestLoadCapture(t *testing.T) {
	root := t.TempDir()
	writeCapture(t, root, "ready", models.TreeDocument{
		ID:       rootID,
		Kind:     models.KindRoot,
		Title:    "Ready",
		Children: []*models.Node{tu.Paragraph("p1", "text")},
	}, models.Manifest{RootID: rootID, Title: "Ready"})

	partial := filepath.Join(root, "partial")
	if err := os.Mkdir(partial, 0o755); err != nil {
		t.Fatal(err)
	}
	tu.MustWriteFile(t, filepath.Join(partial, formatter.TreeFile), []byte(`{"id":"x","kind":"root","children":[]}`))

	tests := []struct {
		name    string
		dump    string
		wantErr error
	}{
		{name: "ready capture", dump: "ready"},
		{name: "missing", dump: "nope", wantErr: shared.ErrDumpNotFound},
		{name: "manifest missing", dump: "partial", wantErr: shared.ErrDumpNotReady},
		{name: "traversal", dump: "../ready", wantErr: shared.ErrInvalidDumpName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := LoadCapture(root, tt.dump)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("LoadCapture() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCapture() error = %v", err)
			}
			if c.Tree == nil || c.Tree.Title != "Ready" || len(c.Tree.Children) != 1 {
				t.Errorf("tree = %+v", c.Tree)
			}
			if c.Kind != models.KindRoot || c.Database != nil {
				t.Errorf("kind = %q", c.Kind)
			}
		})
	}
}

func TestBuildAssetMap(t *testing.T) {
	nodes := []models.ManifestNode{
		{ID: "p1", Kind: "paragraph", Files: []models.AssetRecord{}},
		{ID: "img1", Kind: "image", Files: []models.AssetRecord{{Path: "dump/img1.png", Original: "img.png", Saved: "img1.png"}}},
		{ID: "img2", Kind: "image", Files: []models.AssetRecord{{Path: "dump/img2.bin", Saved: "img2.bin"}}},
	}

	amap := BuildAssetMap(nodes, "/data")
	if _, ok := amap["p1"]; ok {
		t.Error("nodes without files should be left out")
	}
	want := models.AssetRef{LocalPath: filepath.Join("/data", "dump", "img1.png"), RelativePath: "dump/img1.png", OriginalFilename: "img.png"}
	if got := amap["img1"][0]; got != want {
		t.Errorf("img1 = %+v, want %+v", got, want)
	}
	if got := amap["img2"][0].OriginalFilename; got != "img2.bin" {
		t.Errorf("img2 original = %q, want saved name fallback", got)
	}
}

func TestDeleteDump(t *testing.T) {
	root := t.TempDir()
	writeCapture(t, root, "gone", models.TreeDocument{Kind: models.KindRoot}, models.Manifest{})

	if err := DeleteDump(root, "gone"); err != nil {
		t.Fatalf("DeleteDump() error = %v", err)
	}
	tu.AssertNotExists(t, filepath.Join(root, "gone"))

	if err := DeleteDump(root, "gone"); !errors.Is(err, shared.ErrDumpNotFound) {
		t.Errorf("second delete error = %v", err)
	}
	if err := DeleteDump(root, "../"+filepath.Base(root)); !errors.Is(err, shared.ErrInvalidDumpName) {
		t.Errorf("traversal error = %v", err)
	}
}
