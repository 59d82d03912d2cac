package testing

import (
	"encoding/json"

	"github.com/desertthunder/nbx/internal/models"
)

func newNode(id, kind string, body any, children []*models.Node) *models.Node {
	raw, _ := json.Marshal(body)
	n := &models.Node{ID: id, Kind: kind, Payload: models.DecodePayload(kind, raw), HasChildren: len(children) > 0}
	if children == nil {
		children = []*models.Node{}
	}
	n.Children = children
	return n
}

func richText(text string) []map[string]any {
	return []map[string]any{{"type": "text", "text": map[string]any{"content": text}, "plain_text": text}}
}

// Paragraph builds a paragraph node.
func Paragraph(id, text string, children ...*models.Node) *models.Node {
	return newNode(id, models.KindParagraph, map[string]any{"rich_text": richText(text)}, children)
}

// Heading builds a heading_1 node.
func Heading(id, text string) *models.Node {
	return newNode(id, "heading_1", map[string]any{"rich_text": richText(text)}, nil)
}

// Image builds a hosted image node pointing at url.
func Image(id, url string) *models.Node {
	return newNode(id, "image", map[string]any{
		"type":    "file",
		"file":    map[string]any{"url": url},
		"caption": richText("caption of " + id),
	}, nil)
}

// ChildPage builds a child_page node.
func ChildPage(id, title string, children ...*models.Node) *models.Node {
	return newNode(id, models.KindChildPage, map[string]any{"title": title}, children)
}

// ChildDatabase builds a child_database node.
func ChildDatabase(id, title string, children ...*models.Node) *models.Node {
	return newNode(id, models.KindChildDatabase, map[string]any{"title": title}, children)
}

// Seed registers nodes as the children of parentID, recursively, so a
// [FakeRemote] serves them when walked.
func (f *FakeRemote) Seed(parentID string, nodes ...*models.Node) {
	f.mu.Lock()
	f.Children[parentID] = append(f.Children[parentID], nodes...)
	f.mu.Unlock()
	for _, n := range nodes {
		if len(n.Children) > 0 {
			f.Seed(n.ID, n.Children...)
		}
	}
}
