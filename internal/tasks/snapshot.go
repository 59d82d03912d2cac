package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/services"
	"github.com/desertthunder/nbx/internal/shared"
)

const (
	DefaultMaxDepth         = 64
	DefaultAssetConcurrency = 5
)

// SnapshotOpts configures a [SnapshotEngine].
type SnapshotOpts struct {
	DumpRoot         string
	AssetConcurrency int
	MaxDepth         int
	Logger           *log.Logger
	Now              func() time.Time
}

// SnapshotEngine captures remote trees into capture directories under a dump root.
type SnapshotEngine struct {
	remote      services.RemoteTree
	assets      services.AssetTransfer
	dumpRoot    string
	concurrency int
	maxDepth    int
	logger      *log.Logger
	now         func() time.Time
}

// NewSnapshotEngine creates a [SnapshotEngine].
func NewSnapshotEngine(remote services.RemoteTree, assets services.AssetTransfer, opts SnapshotOpts) *SnapshotEngine {
	if opts.AssetConcurrency <= 0 {
		opts.AssetConcurrency = DefaultAssetConcurrency
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SnapshotEngine{
		remote:      remote,
		assets:      assets,
		dumpRoot:    opts.DumpRoot,
		concurrency: opts.AssetConcurrency,
		maxDepth:    opts.MaxDepth,
		logger:      opts.Logger,
		now:         opts.Now,
	}
}

// DumpRoot returns the directory captures are written to.
func (e *SnapshotEngine) DumpRoot() string { return e.dumpRoot }

// Capture walks the page rootID and its descendants into a new capture directory
// and returns the directory path. The directory is removed if the capture fails
// or is canceled.
func (e *SnapshotEngine) Capture(ctx context.Context, rootID string, opts RunOpts) (string, error) {
	id, err := shared.NormalizeID(rootID)
	if err != nil {
		return "", err
	}
	opts.sendProgress(resolveUpdate(id))

	page, err := e.remote.GetPage(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fetch root page: %w", err)
	}
	title := page.Title
	if title == "" {
		title = "untitled"
	}
	opts.sendProgress(fetchRootUpdate(title))

	dir, name, err := e.createDumpDir(title)
	if err != nil {
		return "", err
	}
	logger := shared.WithLogger(e.logger, "dump", name)
	w := e.newWalker(ctx, name, opts, logger)

	done := false
	defer func() {
		if !done {
			w.pool.wait()
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("failed to remove incomplete capture", "err", err)
			}
		}
	}()

	children, err := w.walk(ctx, id, 0)
	if err != nil {
		return "", err
	}

	failed, err := w.finish(ctx)
	if err != nil {
		return "", err
	}

	tree := models.TreeDocument{ID: id, Kind: models.KindRoot, Title: title, Children: children}
	manifest := models.Manifest{
		RootID:       id,
		Title:        title,
		CreatedAt:    e.now(),
		Degraded:     len(failed) > 0,
		FailedAssets: failed,
		Nodes:        w.nodes,
	}

	opts.sendProgress(writeCaptureUpdate())
	if err := formatter.WriteCapturePair(dir, tree, manifest); err != nil {
		return "", err
	}

	done = true
	logger.Info("capture complete", "blocks", w.fetched, "assets", w.pool.scheduled, "failed_assets", len(failed))
	opts.sendProgress(completeUpdate("Captured " + name))
	return dir, nil
}

// CaptureDatabase captures a database: its schema, every entry's properties and
// each entry's block content.
func (e *SnapshotEngine) CaptureDatabase(ctx context.Context, databaseID string, opts RunOpts) (string, error) {
	id, err := shared.NormalizeID(databaseID)
	if err != nil {
		return "", err
	}
	opts.sendProgress(resolveUpdate(id))

	db, err := e.remote.GetDatabase(ctx, id)
	if err != nil {
		return "", fmt.Errorf("fetch database: %w", err)
	}
	title := db.Title
	if title == "" {
		title = "untitled"
	}
	opts.sendProgress(fetchRootUpdate(title))

	dir, name, err := e.createDumpDir(title)
	if err != nil {
		return "", err
	}
	logger := shared.WithLogger(e.logger, "dump", name)
	w := e.newWalker(ctx, name, opts, logger)

	done := false
	defer func() {
		if !done {
			w.pool.wait()
			if err := os.RemoveAll(dir); err != nil {
				logger.Warn("failed to remove incomplete capture", "err", err)
			}
		}
	}()

	var entries []services.Entry
	cursor := ""
	for {
		if err := opts.checkpoint(ctx); err != nil {
			return "", err
		}
		page, err := e.remote.QueryEntries(ctx, id, cursor)
		if err != nil {
			return "", err
		}
		entries = append(entries, page.Results...)
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	opts.sendProgress(queryEntriesUpdate(len(entries)))

	doc := models.DatabaseDocument{
		ID:         id,
		Kind:       models.KindDatabase,
		Title:      title,
		Properties: db.Properties,
		Entries:    make([]models.DatabaseEntry, 0, len(entries)),
	}
	manifest := models.DatabaseManifest{
		DatabaseID: id,
		Title:      title,
		Entries:    make([]models.EntryManifest, 0, len(entries)),
	}

	for i, entry := range entries {
		start := len(w.nodes)
		content, err := w.walk(ctx, entry.ID, 0)
		if err != nil {
			return "", err
		}

		doc.Entries = append(doc.Entries, models.DatabaseEntry{ID: entry.ID, Properties: entry.Properties, Content: content})
		nodes := make([]models.ManifestNode, len(w.nodes)-start)
		copy(nodes, w.nodes[start:])
		manifest.Entries = append(manifest.Entries, models.EntryManifest{ID: entry.ID, Nodes: nodes})
		opts.sendProgress(entryWalkUpdate(i+1, len(entries)))
	}

	failed, err := w.finish(ctx)
	if err != nil {
		return "", err
	}
	manifest.CreatedAt = e.now()
	manifest.Degraded = len(failed) > 0
	manifest.FailedAssets = failed

	opts.sendProgress(writeCaptureUpdate())
	if err := formatter.WriteCapturePair(dir, doc, manifest); err != nil {
		return "", err
	}

	done = true
	logger.Info("database capture complete", "entries", len(entries), "blocks", w.fetched, "failed_assets", len(failed))
	opts.sendProgress(completeUpdate("Captured " + name))
	return dir, nil
}

// createDumpDir creates {root}/{slug}_{YYYYMMDD_HHMMSS}, adding _2, _3, ... when
// the name is taken.
func (e *SnapshotEngine) createDumpDir(title string) (string, string, error) {
	if err := os.MkdirAll(e.dumpRoot, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create dump root: %w", err)
	}

	base := shared.Slug(title) + "_" + e.now().Format("20060102_150405")
	name := base
	for n := 2; ; n++ {
		dir := filepath.Join(e.dumpRoot, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("failed to create capture directory: %w", err)
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
}

// walker performs one depth-first capture. Only the walking goroutine touches
// nodes and fetched; downloads run on the pool.
type walker struct {
	e        *SnapshotEngine
	dumpName string
	opts     RunOpts
	pool     *downloadPool
	logger   *log.Logger
	nodes    []models.ManifestNode
	fetched  int
}

func (e *SnapshotEngine) newWalker(ctx context.Context, dumpName string, opts RunOpts, logger *log.Logger) *walker {
	return &walker{
		e:        e,
		dumpName: dumpName,
		opts:     opts,
		logger:   logger,
		nodes:    []models.ManifestNode{},
		pool: &downloadPool{
			transfer: e.assets,
			root:     e.dumpRoot,
			sem:      make(chan struct{}, e.concurrency),
			logger:   logger,
			failed:   []models.FailedAsset{},
		},
	}
}

// walk lists the children of parentID page by page, recursing into each child
// with children before moving to its next sibling.
func (w *walker) walk(ctx context.Context, parentID string, depth int) ([]*models.Node, error) {
	children := []*models.Node{}
	cursor := ""
	for {
		if err := w.opts.checkpoint(ctx); err != nil {
			return nil, err
		}

		page, err := w.e.remote.ListChildren(ctx, parentID, cursor)
		if err != nil {
			return nil, err
		}

		for _, node := range page.Results {
			w.fetched++
			entry := models.ManifestNode{ID: node.ID, Kind: node.Kind, HasChildren: node.HasChildren, Files: []models.AssetRecord{}}
			if asset := node.Asset(); asset != nil && asset.URL != "" {
				rec := w.assetRecord(node.ID, asset.URL)
				entry.Files = append(entry.Files, rec)
				w.pool.schedule(ctx, node.ID, rec)
			}
			w.nodes = append(w.nodes, entry)

			switch {
			case !node.HasChildren:
				node.Children = []*models.Node{}
			case depth+1 >= w.e.maxDepth:
				w.logger.Warn("depth limit reached, children not captured", "block", node.ID, "depth", depth+1)
			default:
				node.Children, err = w.walk(ctx, node.ID, depth+1)
				if err != nil {
					return nil, err
				}
			}
			children = append(children, node)
		}

		w.opts.sendProgress(walkUpdate(w.fetched))
		if !page.HasMore || page.NextCursor == "" {
			return children, nil
		}
		cursor = page.NextCursor
	}
}

// assetRecord derives the on-disk names for an asset: the original name is the
// last URL path segment, the saved name is the block id plus its extension.
func (w *walker) assetRecord(nodeID, rawURL string) models.AssetRecord {
	original := originalName(rawURL)
	ext := path.Ext(original)
	if ext == "" {
		ext = ".bin"
	}
	saved := nodeID + ext

	return models.AssetRecord{
		URL:      rawURL,
		Path:     path.Join(w.dumpName, saved),
		Original: original,
		Saved:    saved,
	}
}

// originalName returns the last path segment of rawURL without its query, or
// "file.bin" when the path has none.
func originalName(rawURL string) string {
	var name string
	if u, err := url.Parse(rawURL); err == nil {
		name = path.Base(u.Path)
	} else {
		name = path.Base(strings.SplitN(rawURL, "?", 2)[0])
	}
	if name == "" || name == "." || name == "/" {
		return "file.bin"
	}
	return name
}

// finish waits for outstanding downloads and reports the failed ones.
func (w *walker) finish(ctx context.Context) ([]models.FailedAsset, error) {
	w.opts.sendProgress(downloadUpdate(w.pool.scheduled))
	failed := w.pool.wait()
	if err := w.opts.checkpoint(ctx); err != nil {
		return nil, err
	}
	return failed, nil
}

// downloadPool runs asset downloads with bounded concurrency.
type downloadPool struct {
	transfer  services.AssetTransfer
	root      string
	sem       chan struct{}
	logger    *log.Logger
	wg        sync.WaitGroup
	scheduled int

	mu     sync.Mutex
	failed []models.FailedAsset
}

func (p *downloadPool) schedule(ctx context.Context, nodeID string, rec models.AssetRecord) {
	p.scheduled++
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			p.fail(nodeID, rec, ctx.Err())
			return
		}
		defer func() { <-p.sem }()

		dest := filepath.Join(p.root, filepath.FromSlash(rec.Path))
		if _, err := p.transfer.Download(ctx, rec.URL, dest); err != nil {
			p.logger.Warn("asset download failed", "block", nodeID, "file", rec.Original, "err", err)
			p.fail(nodeID, rec, err)
		}
	}()
}

func (p *downloadPool) fail(nodeID string, rec models.AssetRecord, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, models.FailedAsset{NodeID: nodeID, URL: rec.URL, Path: rec.Path, Error: err.Error()})
}

// wait blocks until every scheduled download finished and returns the failures
// ordered by path.
func (p *downloadPool) wait() []models.FailedAsset {
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	sort.Slice(p.failed, func(i, j int) bool { return p.failed[i].Path < p.failed[j].Path })
	return p.failed
}
