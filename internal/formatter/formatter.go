// package formatter writes capture files and renders job history as CSV, Markdown, JSON or plain text
package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Names of the two files that make up a capture. A capture is ready once both exist.
const (
	TreeFile     = "tree.json"
	ManifestFile = "manifest.json"
)

// MarshalJSON encodes v, indented when pretty is set. HTML escaping is disabled
// so URLs in captured content stay readable.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeTemp encodes v into a temporary file in dir and returns its path.
func writeTemp(dir, name string, v any) (string, error) {
	data, err := MarshalJSON(v, true)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}

	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmp := f.Name()

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	return tmp, nil
}

// WriteJSONFile writes v to path through a temporary file and a rename.
func WriteJSONFile(path string, v any) error {
	tmp, err := writeTemp(filepath.Dir(path), filepath.Base(path), v)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}

// WriteCapturePair writes tree.json and then manifest.json into dir. Both are
// encoded before either is renamed into place, and a failed manifest rename
// removes the tree again, so readers never observe a manifest without a tree.
func WriteCapturePair(dir string, tree, manifest any) error {
	treeTmp, err := writeTemp(dir, TreeFile, tree)
	if err != nil {
		return err
	}
	manifestTmp, err := writeTemp(dir, ManifestFile, manifest)
	if err != nil {
		os.Remove(treeTmp)
		return err
	}

	treePath := filepath.Join(dir, TreeFile)
	if err := os.Rename(treeTmp, treePath); err != nil {
		os.Remove(treeTmp)
		os.Remove(manifestTmp)
		return fmt.Errorf("failed to move %s into place: %w", TreeFile, err)
	}
	if err := os.Rename(manifestTmp, filepath.Join(dir, ManifestFile)); err != nil {
		os.Remove(manifestTmp)
		return errors.Join(
			fmt.Errorf("failed to move %s into place: %w", ManifestFile, err),
			os.Remove(treePath),
		)
	}
	return nil
}

// ReadJSONFile decodes the JSON file at path into v.
func ReadJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
