package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/shared"
)

// Capture is a loaded capture directory. Exactly one of Tree and Database is set.
type Capture struct {
	Name             string
	Dir              string
	Kind             string
	Tree             *models.TreeDocument
	Manifest         *models.Manifest
	Database         *models.DatabaseDocument
	DatabaseManifest *models.DatabaseManifest
}

// ValidateDumpName rejects names that could escape the dump root.
func ValidateDumpName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", shared.ErrInvalidDumpName, name)
	}
	return nil
}

// ListDumps returns every capture directory under root sorted by name. A capture
// is ready when both tree.json and manifest.json exist.
func ListDumps(root string) ([]models.DumpInfo, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.DumpInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dump root: %w", err)
	}

	dumps := []models.DumpInfo{}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		info := models.DumpInfo{Name: entry.Name(), Ready: isReady(dir)}
		if fi, err := entry.Info(); err == nil {
			info.ModTime = fi.ModTime()
		}
		if info.Ready {
			info.Kind = captureKind(dir)
		}
		dumps = append(dumps, info)
	}

	sort.Slice(dumps, func(i, j int) bool { return dumps[i].Name < dumps[j].Name })
	return dumps, nil
}

func isReady(dir string) bool {
	for _, name := range []string{formatter.TreeFile, formatter.ManifestFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

func captureKind(dir string) string {
	var head struct {
		Kind string `json:"kind"`
	}
	if err := formatter.ReadJSONFile(filepath.Join(dir, formatter.TreeFile), &head); err != nil {
		return ""
	}
	if head.Kind == "" {
		return models.KindRoot
	}
	return head.Kind
}

// LoadCapture reads the capture called name from root.
func LoadCapture(root, name string) (*Capture, error) {
	if err := ValidateDumpName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(root, name)

	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", shared.ErrDumpNotFound, name)
	}
	if !isReady(dir) {
		return nil, fmt.Errorf("%w: %s", shared.ErrDumpNotReady, name)
	}

	treeData, err := os.ReadFile(filepath.Join(dir, formatter.TreeFile))
	if err != nil {
		return nil, err
	}
	var head struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(treeData, &head); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", formatter.TreeFile, err)
	}

	c := &Capture{Name: name, Dir: dir, Kind: head.Kind}
	manifestPath := filepath.Join(dir, formatter.ManifestFile)

	if head.Kind == models.KindDatabase {
		c.Database = &models.DatabaseDocument{}
		c.DatabaseManifest = &models.DatabaseManifest{}
		if err := json.Unmarshal(treeData, c.Database); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", formatter.TreeFile, err)
		}
		if err := formatter.ReadJSONFile(manifestPath, c.DatabaseManifest); err != nil {
			return nil, err
		}
		return c, nil
	}

	c.Kind = models.KindRoot
	c.Tree = &models.TreeDocument{}
	c.Manifest = &models.Manifest{}
	if err := json.Unmarshal(treeData, c.Tree); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", formatter.TreeFile, err)
	}
	if err := formatter.ReadJSONFile(manifestPath, c.Manifest); err != nil {
		return nil, err
	}
	return c, nil
}

// ManifestNodes returns the recorded nodes of either capture kind.
func (c *Capture) ManifestNodes() []models.ManifestNode {
	if c.DatabaseManifest != nil {
		return c.DatabaseManifest.AllNodes()
	}
	if c.Manifest != nil {
		return c.Manifest.Nodes
	}
	return nil
}

// BuildAssetMap resolves the recorded files of nodes against root. Nodes without
// files are left out.
func BuildAssetMap(nodes []models.ManifestNode, root string) models.AssetMap {
	amap := models.AssetMap{}
	for _, node := range nodes {
		if node.ID == "" || len(node.Files) == 0 {
			continue
		}
		refs := make([]models.AssetRef, 0, len(node.Files))
		for _, f := range node.Files {
			original := f.Original
			if original == "" {
				original = f.Saved
			}
			if original == "" {
				original = "file"
			}
			ref := models.AssetRef{RelativePath: f.Path, OriginalFilename: original}
			if f.Path != "" {
				ref.LocalPath = filepath.Join(root, filepath.FromSlash(f.Path))
			}
			refs = append(refs, ref)
		}
		amap[node.ID] = refs
	}
	return amap
}

// DeleteDump removes the capture called name from root.
func DeleteDump(root, name string) error {
	if err := ValidateDumpName(name); err != nil {
		return err
	}
	dir := filepath.Join(root, name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%w: %s", shared.ErrDumpNotFound, name)
	}
	return os.RemoveAll(dir)
}
