package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Container kinds create a new remote parent instead of being appended as blocks.
const (
	KindChildPage     = "child_page"
	KindChildDatabase = "child_database"
	KindParagraph     = "paragraph"
	KindRoot          = "root"
	KindDatabase      = "database"
)

var assetKinds = map[string]bool{"image": true, "file": true, "pdf": true, "video": true, "audio": true}

var textKinds = map[string]bool{
	"paragraph":          true,
	"heading_1":          true,
	"heading_2":          true,
	"heading_3":          true,
	"bulleted_list_item": true,
	"numbered_list_item": true,
	"quote":              true,
	"callout":            true,
	"toggle":             true,
	"to_do":              true,
	"code":               true,
}

// IsAssetKind reports whether blocks of kind carry a binary file.
func IsAssetKind(kind string) bool { return assetKinds[kind] }

// IsContainerKind reports whether blocks of kind are materialized as new remote parents.
func IsContainerKind(kind string) bool { return kind == KindChildPage || kind == KindChildDatabase }

// Node is one block of a content tree. Children keep remote order. A nil
// Children slice means the children were never fetched.
type Node struct {
	ID          string
	Kind        string
	HasChildren bool
	Payload     Payload
	Children    []*Node
}

// Payload is the kind-specific body of a [Node]. The set of implementations is closed.
type Payload interface {
	// Raw returns the payload as remote JSON.
	Raw() json.RawMessage
	isPayload()
}

// RichText is a single rich text run.
type RichText struct {
	Type      string `json:"type,omitempty"`
	PlainText string `json:"plain_text,omitempty"`
	Href      string `json:"href,omitempty"`
}

// PlainText concatenates the plain text of runs.
func PlainText(runs []RichText) string {
	var b bytes.Buffer
	for _, r := range runs {
		b.WriteString(r.PlainText)
	}
	return b.String()
}

// TextPayload is the body of paragraph-like blocks.
type TextPayload struct {
	RichText []RichText
	raw      json.RawMessage
}

func (p *TextPayload) Raw() json.RawMessage { return p.raw }
func (*TextPayload) isPayload()             {}

// Text returns the plain text of the block.
func (p *TextPayload) Text() string { return PlainText(p.RichText) }

// AssetPayload is the body of image, file, pdf, video and audio blocks.
// Source is one of "file", "external" or "file_upload".
type AssetPayload struct {
	Source  string
	URL     string
	Name    string
	Caption json.RawMessage
	raw     json.RawMessage
}

func (p *AssetPayload) Raw() json.RawMessage { return p.raw }
func (*AssetPayload) isPayload()             {}

// ChildPagePayload is the body of a child_page block.
type ChildPagePayload struct {
	Title string
	raw   json.RawMessage
}

func (p *ChildPagePayload) Raw() json.RawMessage { return p.raw }
func (*ChildPagePayload) isPayload()             {}

// ChildDatabasePayload is the body of a child_database block.
type ChildDatabasePayload struct {
	Title string
	raw   json.RawMessage
}

func (p *ChildDatabasePayload) Raw() json.RawMessage { return p.raw }
func (*ChildDatabasePayload) isPayload()             {}

// OpaquePayload carries any other block body unchanged.
type OpaquePayload struct {
	raw json.RawMessage
}

func (p *OpaquePayload) Raw() json.RawMessage { return p.raw }
func (*OpaquePayload) isPayload()             {}

// DecodePayload parses raw into the payload variant for kind. Malformed bodies of
// known kinds degrade to [OpaquePayload] so nothing is lost.
func DecodePayload(kind string, raw json.RawMessage) Payload {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = json.RawMessage(`{}`)
	}

	switch {
	case assetKinds[kind]:
		var body struct {
			Type    string          `json:"type"`
			Caption json.RawMessage `json:"caption"`
			Name    string          `json:"name"`
			File    *struct {
				URL string `json:"url"`
			} `json:"file"`
			External *struct {
				URL string `json:"url"`
			} `json:"external"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			p := &AssetPayload{Source: body.Type, Name: body.Name, Caption: body.Caption, raw: raw}
			switch {
			case body.File != nil:
				p.URL = body.File.URL
			case body.External != nil:
				p.URL = body.External.URL
			}
			return p
		}
	case textKinds[kind]:
		var body struct {
			RichText []RichText `json:"rich_text"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			return &TextPayload{RichText: body.RichText, raw: raw}
		}
	case kind == KindChildPage:
		var body struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			return &ChildPagePayload{Title: body.Title, raw: raw}
		}
	case kind == KindChildDatabase:
		var body struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			return &ChildDatabasePayload{Title: body.Title, raw: raw}
		}
	}
	return &OpaquePayload{raw: raw}
}

// MarshalJSON encodes the node in the remote block shape with an extra
// "children" array.
func (n *Node) MarshalJSON() ([]byte, error) {
	var raw json.RawMessage
	if n.Payload != nil {
		raw = n.Payload.Raw()
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	children := n.Children
	if children == nil && !n.HasChildren {
		children = []*Node{}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range []struct {
		key   string
		value any
	}{
		{"id", n.ID},
		{"type", n.Kind},
		{"has_children", n.HasChildren},
		{n.Kind, raw},
		{"children", children},
	} {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(field.key)
		value, err := json.Marshal(field.value)
		if err != nil {
			return nil, fmt.Errorf("encode node %s: %w", n.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes both remote API blocks and captured nodes. The kind is
// read from "type", or "kind" when "type" is absent.
func (n *Node) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var head struct {
		ID          string  `json:"id"`
		Type        string  `json:"type"`
		Kind        string  `json:"kind"`
		HasChildren bool    `json:"has_children"`
		Children    []*Node `json:"children"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}

	kind := head.Type
	if kind == "" {
		kind = head.Kind
	}

	*n = Node{ID: head.ID, Kind: kind, HasChildren: head.HasChildren, Children: head.Children}
	if c, ok := fields["children"]; ok && n.Children == nil && string(c) != "null" {
		n.Children = []*Node{}
	}
	n.Payload = DecodePayload(kind, fields[kind])
	return nil
}

// Asset returns the asset payload of n, or nil for non-asset nodes.
func (n *Node) Asset() *AssetPayload {
	p, _ := n.Payload.(*AssetPayload)
	return p
}

// CountNodes returns the number of nodes in the forest, descendants included.
func CountNodes(nodes []*Node) int {
	total := 0
	for _, n := range nodes {
		total += 1 + CountNodes(n.Children)
	}
	return total
}
