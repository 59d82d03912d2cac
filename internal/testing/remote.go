package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/services"
	"github.com/desertthunder/nbx/internal/shared"
)

// Written is an item created on a [FakeRemote].
type Written struct {
	ID         string
	Kind       string
	Title      string
	Block      services.Block
	Properties map[string]any
}

// Shape is the kind/title skeleton of a written subtree, used to compare runs.
type Shape struct {
	Kind     string
	Title    string
	Text     string
	Children []Shape
}

// FakeRemote is an in-memory [services.RemoteTree]. The read side is seeded
// through the exported maps; the write side records everything it creates.
type FakeRemote struct {
	mu sync.Mutex

	Pages     map[string]*services.Page
	Databases map[string]*models.Database
	Children  map[string][]*models.Node
	Entries   map[string][]services.Entry
	PageSize  int

	// FailBatch rejects a multi-block append before any block is created.
	FailBatch func(parentID string, blocks []services.Block) error
	// FailBlock rejects single blocks; a batch containing a rejected block fails as a whole.
	FailBlock func(block services.Block) error
	// FailContainer rejects page and database creation.
	FailContainer func(title string) error
	// OnList runs before every children listing.
	OnList func(parentID string)

	Written          map[string][]*Written
	AppendCalls      int
	AppendBatchSizes []int
	ListCalls        int
	nextID           int
}

// NewFakeRemote creates an empty [FakeRemote].
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		Pages:     make(map[string]*services.Page),
		Databases: make(map[string]*models.Database),
		Children:  make(map[string][]*models.Node),
		Entries:   make(map[string][]services.Entry),
		Written:   make(map[string][]*Written),
	}
}

// AddPage registers a page that can be fetched and written to.
func (f *FakeRemote) AddPage(id, title string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pages[id] = &services.Page{ID: id, Title: title}
}

func (f *FakeRemote) newID(prefix string) string {
	f.nextID++
	return prefix + "-" + strconv.Itoa(f.nextID)
}

func (f *FakeRemote) GetPage(ctx context.Context, id string) (*services.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.Pages[id]
	if !ok {
		return nil, fmt.Errorf("get page %s: %w", id, shared.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *FakeRemote) GetBlock(ctx context.Context, id string) (*models.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, children := range f.Children {
		for _, n := range children {
			if n.ID == id {
				cp := *n
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("get block %s: %w", id, shared.ErrNotFound)
}

func (f *FakeRemote) GetDatabase(ctx context.Context, id string) (*models.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db, ok := f.Databases[id]
	if !ok {
		return nil, fmt.Errorf("get database %s: %w", id, shared.ErrNotFound)
	}
	cp := *db
	return &cp, nil
}

func (f *FakeRemote) pageSize() int {
	if f.PageSize <= 0 {
		return 100
	}
	return f.PageSize
}

func cursorRange(cursor string, size, total int) (int, int, error) {
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad cursor %q", shared.ErrAPIRequest, cursor)
		}
		start = n
	}
	return start, min(start+size, total), nil
}

// ListChildren returns shallow copies so captured nodes never alias the seed data.
func (f *FakeRemote) ListChildren(ctx context.Context, id, cursor string) (*services.ChildrenPage, error) {
	if f.OnList != nil {
		f.OnList(id)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCalls++

	all := f.Children[id]
	start, end, err := cursorRange(cursor, f.pageSize(), len(all))
	if err != nil {
		return nil, err
	}

	page := &services.ChildrenPage{Results: []*models.Node{}}
	for _, n := range all[start:end] {
		cp := &models.Node{ID: n.ID, Kind: n.Kind, HasChildren: n.HasChildren, Payload: n.Payload}
		page.Results = append(page.Results, cp)
	}
	if end < len(all) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *FakeRemote) AppendChildren(ctx context.Context, parentID string, children []services.Block) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.AppendCalls++
	f.AppendBatchSizes = append(f.AppendBatchSizes, len(children))

	if len(children) > services.AppendLimit {
		return nil, shared.ErrBatchTooLarge
	}
	if len(children) > 1 && f.FailBatch != nil {
		if err := f.FailBatch(parentID, children); err != nil {
			return nil, err
		}
	}
	if f.FailBlock != nil {
		for _, b := range children {
			if err := f.FailBlock(b); err != nil {
				return nil, err
			}
		}
	}

	ids := make([]string, len(children))
	for i, b := range children {
		kind, _ := b["type"].(string)
		w := &Written{ID: f.newID("blk"), Kind: kind, Block: b}
		f.Written[parentID] = append(f.Written[parentID], w)
		ids[i] = w.ID
	}
	return ids, nil
}

func (f *FakeRemote) CreatePage(ctx context.Context, parentID, title string, children []services.Block) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailContainer != nil {
		if err := f.FailContainer(title); err != nil {
			return "", err
		}
	}

	w := &Written{ID: f.newID("page"), Kind: models.KindChildPage, Title: title}
	f.Written[parentID] = append(f.Written[parentID], w)
	f.Pages[w.ID] = &services.Page{ID: w.ID, Title: title}
	return w.ID, nil
}

// CreateDatabase assigns option ids of the form "<property>:<option>".
func (f *FakeRemote) CreateDatabase(ctx context.Context, parentID, title string, schema map[string]any) (*models.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailContainer != nil {
		if err := f.FailContainer(title); err != nil {
			return nil, err
		}
	}
	if _, ok := f.Pages[parentID]; !ok {
		return nil, fmt.Errorf("create database under %s: %w", parentID, shared.ErrNotFound)
	}

	db := &models.Database{ID: f.newID("db"), Title: title, Properties: make(map[string]models.PropertySchema)}
	for name, raw := range schema {
		def, _ := raw.(map[string]any)
		for kind, body := range def {
			prop := models.PropertySchema{ID: name, Name: name, Type: kind}
			if cfg, ok := body.(map[string]any); ok {
				if opts, ok := cfg["options"].([]map[string]any); ok {
					var withIDs []models.SelectOption
					for _, o := range opts {
						n, _ := o["name"].(string)
						c, _ := o["color"].(string)
						withIDs = append(withIDs, models.SelectOption{ID: name + ":" + n, Name: n, Color: c})
					}
					prop.Config, _ = json.Marshal(map[string]any{"options": withIDs})
				}
			}
			db.Properties[name] = prop
		}
	}

	f.Databases[db.ID] = db
	f.Written[parentID] = append(f.Written[parentID], &Written{ID: db.ID, Kind: models.KindChildDatabase, Title: title})
	cp := *db
	return &cp, nil
}

func (f *FakeRemote) QueryEntries(ctx context.Context, databaseID, cursor string) (*services.EntriesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := f.Entries[databaseID]
	start, end, err := cursorRange(cursor, f.pageSize(), len(all))
	if err != nil {
		return nil, err
	}

	page := &services.EntriesPage{Results: append([]services.Entry{}, all[start:end]...)}
	if end < len(all) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *FakeRemote) CreateEntry(ctx context.Context, databaseID string, properties map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Databases[databaseID]; !ok {
		return "", fmt.Errorf("create entry in %s: %w", databaseID, shared.ErrNotFound)
	}
	w := &Written{ID: f.newID("entry"), Kind: "entry", Properties: properties}
	f.Written[databaseID] = append(f.Written[databaseID], w)
	return w.ID, nil
}

// WrittenUnder returns a copy of the items created directly under parentID.
func (f *FakeRemote) WrittenUnder(parentID string) []Written {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Written
	for _, w := range f.Written[parentID] {
		out = append(out, *w)
	}
	return out
}

// Shape returns the skeleton of everything written under parentID, recursively.
func (f *FakeRemote) Shape(parentID string) []Shape {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shape(parentID)
}

func (f *FakeRemote) shape(parentID string) []Shape {
	var out []Shape
	for _, w := range f.Written[parentID] {
		out = append(out, Shape{Kind: w.Kind, Title: w.Title, Text: BlockText(w.Block), Children: f.shape(w.ID)})
	}
	return out
}

// BlockText extracts the concatenated text contents of a written block.
func BlockText(b services.Block) string {
	if b == nil {
		return ""
	}
	kind, _ := b["type"].(string)
	body, ok := b[kind].(map[string]any)
	if !ok {
		raw, isRaw := b[kind].(json.RawMessage)
		if !isRaw || json.Unmarshal(raw, &body) != nil {
			return ""
		}
	}

	data, _ := json.Marshal(body["rich_text"])
	var runs []struct {
		PlainText string `json:"plain_text"`
		Text      struct {
			Content string `json:"content"`
		} `json:"text"`
	}
	json.Unmarshal(data, &runs)

	var text string
	for _, r := range runs {
		if r.Text.Content != "" {
			text += r.Text.Content
		} else {
			text += r.PlainText
		}
	}
	return text
}

// SortedKeys returns the keys of m in order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
