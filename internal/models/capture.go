package models

import (
	"encoding/json"
	"time"
)

// TreeDocument is the root of a page capture, stored as tree.json.
type TreeDocument struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Title    string  `json:"title,omitempty"`
	Children []*Node `json:"children"`
}

// AssetRecord describes one downloaded file. Path is relative to the dump root.
type AssetRecord struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Original string `json:"original"`
	Saved    string `json:"saved"`
}

// ManifestNode lists the files recorded for a single node.
type ManifestNode struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"`
	HasChildren bool          `json:"has_children"`
	Files       []AssetRecord `json:"files"`
}

// FailedAsset records a download that did not complete.
type FailedAsset struct {
	NodeID string `json:"node_id"`
	URL    string `json:"url"`
	Path   string `json:"path"`
	Error  string `json:"error"`
}

// Manifest is the capture metadata stored as manifest.json.
type Manifest struct {
	RootID       string         `json:"root_id"`
	Title        string         `json:"title"`
	CreatedAt    time.Time      `json:"created_at"`
	Degraded     bool           `json:"degraded"`
	FailedAssets []FailedAsset  `json:"failed_assets"`
	Nodes        []ManifestNode `json:"nodes"`
}

// PropertySchema is one column definition of a database. Config holds the
// kind-specific body, e.g. the option list of a select.
type PropertySchema struct {
	ID     string          `json:"id,omitempty"`
	Name   string          `json:"name"`
	Type   string          `json:"type"`
	Config json.RawMessage `json:"-"`
}

// SelectOption is one choice of a select, multi_select or status property.
type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Options returns the choices of an enumerated property.
func (p PropertySchema) Options() []SelectOption {
	var body struct {
		Options []SelectOption `json:"options"`
	}
	if len(p.Config) == 0 || json.Unmarshal(p.Config, &body) != nil {
		return nil
	}
	return body.Options
}

func (p PropertySchema) MarshalJSON() ([]byte, error) {
	config := p.Config
	if len(config) == 0 {
		config = json.RawMessage(`{}`)
	}
	out := map[string]any{"name": p.Name, "type": p.Type, p.Type: config}
	if p.ID != "" {
		out["id"] = p.ID
	}
	return json.Marshal(out)
}

func (p *PropertySchema) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	type plain PropertySchema
	var head plain
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	*p = PropertySchema(head)
	p.Config = fields[p.Type]
	return nil
}

// Database is a database as returned by the remote.
type Database struct {
	ID         string                    `json:"id"`
	Title      string                    `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// DatabaseEntry is one row of a database with its block content.
type DatabaseEntry struct {
	ID         string                     `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
	Content    []*Node                    `json:"content"`
}

// DatabaseDocument is the root of a database capture, stored as tree.json.
type DatabaseDocument struct {
	ID         string                    `json:"id"`
	Kind       string                    `json:"kind"`
	Title      string                    `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
	Entries    []DatabaseEntry           `json:"entries"`
}

// EntryManifest lists the recorded nodes of one database entry.
type EntryManifest struct {
	ID    string         `json:"id"`
	Nodes []ManifestNode `json:"nodes"`
}

// DatabaseManifest is the manifest.json of a database capture.
type DatabaseManifest struct {
	DatabaseID   string          `json:"database_id"`
	Title        string          `json:"title"`
	CreatedAt    time.Time       `json:"created_at"`
	Degraded     bool            `json:"degraded"`
	FailedAssets []FailedAsset   `json:"failed_assets"`
	Entries      []EntryManifest `json:"entries"`
}

// AllNodes flattens the per-entry node lists.
func (m *DatabaseManifest) AllNodes() []ManifestNode {
	var out []ManifestNode
	for _, e := range m.Entries {
		out = append(out, e.Nodes...)
	}
	return out
}

// AssetRef points at a downloaded file on disk.
type AssetRef struct {
	LocalPath        string `json:"local_path"`
	RelativePath     string `json:"relative_path"`
	OriginalFilename string `json:"original_filename"`
}

// AssetMap maps node ids to their downloaded files.
type AssetMap map[string][]AssetRef

// UploadedAsset references a file stored on the remote.
type UploadedAsset struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// DumpInfo describes a capture directory.
type DumpInfo struct {
	Name    string    `json:"name"`
	Kind    string    `json:"kind,omitempty"`
	Ready   bool      `json:"ready"`
	ModTime time.Time `json:"mod_time"`
}
