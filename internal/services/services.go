// package services defines the remote workspace interfaces and their HTTP implementations
//
// Notion (blocks, pages, databases, file uploads)
package services

import (
	"context"
	"encoding/json"

	"github.com/desertthunder/nbx/internal/models"
)

// AppendLimit is the maximum number of blocks accepted by a single append call.
const AppendLimit = 100

// RemoteTree defines the operations used to read and write a remote content tree.
type RemoteTree interface {
	// GetPage retrieves page metadata. The title comes from the page's title property.
	GetPage(ctx context.Context, id string) (*Page, error)

	// GetBlock retrieves a single block without its children.
	GetBlock(ctx context.Context, id string) (*models.Node, error)

	// GetDatabase retrieves a database with its property schema.
	GetDatabase(ctx context.Context, id string) (*models.Database, error)

	// ListChildren returns one page of children of a block or page.
	// An empty cursor starts at the beginning.
	ListChildren(ctx context.Context, id, cursor string) (*ChildrenPage, error)

	// AppendChildren appends at most [AppendLimit] blocks under parentID and returns
	// the created ids in input order.
	AppendChildren(ctx context.Context, parentID string, children []Block) ([]string, error)

	// CreatePage creates a page under parentID and returns its id.
	CreatePage(ctx context.Context, parentID, title string, children []Block) (string, error)

	// CreateDatabase creates a database under parentID with the given property schema.
	CreateDatabase(ctx context.Context, parentID, title string, schema map[string]any) (*models.Database, error)

	// QueryEntries returns one page of database entries.
	QueryEntries(ctx context.Context, databaseID, cursor string) (*EntriesPage, error)

	// CreateEntry creates an entry in a database and returns its id.
	CreateEntry(ctx context.Context, databaseID string, properties map[string]any) (string, error)
}

// AssetTransfer moves binary assets between the remote and local disk.
type AssetTransfer interface {
	// Download streams url into dest and returns the number of bytes written.
	Download(ctx context.Context, url, dest string) (int64, error)

	// Upload stores a local file on the remote and returns a reference usable in block payloads.
	Upload(ctx context.Context, localPath string) (*models.UploadedAsset, error)
}

// Block is a block write payload in the remote API shape.
type Block map[string]any

// Page is page metadata.
type Page struct {
	ID         string                     `json:"id"`
	Title      string                     `json:"-"`
	Archived   bool                       `json:"archived"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// ChildrenPage is one page of a children listing.
type ChildrenPage struct {
	Results    []*models.Node `json:"results"`
	HasMore    bool           `json:"has_more"`
	NextCursor string         `json:"next_cursor"`
}

// Entry is one database row.
type Entry struct {
	ID         string                     `json:"id"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// EntriesPage is one page of a database query.
type EntriesPage struct {
	Results    []Entry `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}

// TitleFromProperties extracts the title of a page from its properties, looking
// for a property named "title" first and any title-typed property after that.
func TitleFromProperties(props map[string]json.RawMessage) string {
	type titleProp struct {
		Type  string            `json:"type"`
		Title []models.RichText `json:"title"`
	}

	if raw, ok := props["title"]; ok {
		var p titleProp
		if json.Unmarshal(raw, &p) == nil && len(p.Title) > 0 {
			return models.PlainText(p.Title)
		}
	}
	for _, raw := range props {
		var p titleProp
		if json.Unmarshal(raw, &p) == nil && p.Type == "title" && len(p.Title) > 0 {
			return models.PlainText(p.Title)
		}
	}
	return ""
}
