package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/models"
	"github.com/desertthunder/nbx/internal/services"
	"github.com/desertthunder/nbx/internal/shared"
)

// MaterializeOpts configures a [MaterializeEngine].
type MaterializeOpts struct {
	Cache  *UploadCache
	Logger *log.Logger
}

// MaterializeEngine rebuilds captured trees under a remote parent.
type MaterializeEngine struct {
	remote services.RemoteTree
	assets services.AssetTransfer
	cache  *UploadCache
	logger *log.Logger
}

// NewMaterializeEngine creates a [MaterializeEngine]. The upload cache is shared
// by every run of the engine.
func NewMaterializeEngine(remote services.RemoteTree, assets services.AssetTransfer, opts MaterializeOpts) *MaterializeEngine {
	if opts.Cache == nil {
		opts.Cache = NewUploadCache()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &MaterializeEngine{remote: remote, assets: assets, cache: opts.Cache, logger: opts.Logger}
}

// MaterializeResult summarizes a run.
type MaterializeResult struct {
	Total        int // nodes in the source tree (plus entries for databases)
	Processed    int
	FailedItems  int // blocks or entries the remote rejected individually
	Placeholders int // assets replaced by a placeholder paragraph
	Fallbacks    int // nodes whose children were attached to an ancestor instead
	DatabaseID   string
}

// Materialize appends the children of tree under targetID, preserving sibling
// order. Individual rejected blocks are skipped. The target must exist and
// must not be a database; fatal remote errors abort the run.
func (e *MaterializeEngine) Materialize(ctx context.Context, targetID string, tree *models.TreeDocument, assets models.AssetMap, opts RunOpts) (*MaterializeResult, error) {
	target, err := shared.NormalizeID(targetID)
	if err != nil {
		return nil, err
	}
	opts.sendProgress(resolveUpdate(target))

	if err := e.validateBlockTarget(ctx, target); err != nil {
		return nil, err
	}

	m := e.newRun(target, assets, opts, models.CountNodes(tree.Children))
	if err := m.appendTree(ctx, target, tree.Children); err != nil {
		return m.result, err
	}

	opts.sendProgress(completeUpdate(fmt.Sprintf("Migrated %d blocks", m.result.Processed)))
	return m.result, nil
}

// MaterializeDatabase recreates a captured database under the page targetID:
// the converted schema, every entry with remapped property values, then each
// entry's block content.
func (e *MaterializeEngine) MaterializeDatabase(ctx context.Context, targetID string, doc *models.DatabaseDocument, assets models.AssetMap, opts RunOpts) (*MaterializeResult, error) {
	target, err := shared.NormalizeID(targetID)
	if err != nil {
		return nil, err
	}
	opts.sendProgress(resolveUpdate(target))

	if err := e.validatePageTarget(ctx, target); err != nil {
		return nil, err
	}

	total := len(doc.Entries)
	for _, entry := range doc.Entries {
		total += models.CountNodes(entry.Content)
	}
	m := e.newRun(target, assets, opts, total)

	opts.sendProgress(createDatabaseUpdate(doc.Title))
	created, err := e.remote.CreateDatabase(ctx, target, doc.Title, ConvertSchema(doc.Properties))
	if err != nil {
		return m.result, fmt.Errorf("create database: %w", err)
	}
	m.result.DatabaseID = created.ID
	remap := BuildOptionRemap(doc.Properties, created.Properties)

	for _, entry := range doc.Entries {
		if err := opts.checkpoint(ctx); err != nil {
			return m.result, err
		}

		entryID, err := e.remote.CreateEntry(ctx, created.ID, RemapProperties(entry.Properties, remap))
		m.advance(1)
		if err != nil {
			if services.IsFatal(err) {
				return m.result, err
			}
			m.result.FailedItems++
			m.logger.Warn("entry rejected, skipping its content", "entry", entry.ID, "err", err)
			m.advance(models.CountNodes(entry.Content))
			continue
		}

		if err := m.appendTree(ctx, entryID, entry.Content); err != nil {
			return m.result, err
		}
	}

	opts.sendProgress(completeUpdate(fmt.Sprintf("Migrated %d entries", len(doc.Entries))))
	return m.result, nil
}

// validatePageTarget rejects database ids and unknown ids as a database parent.
func (e *MaterializeEngine) validatePageTarget(ctx context.Context, target string) error {
	_, err := e.remote.GetPage(ctx, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrAPIRequest) {
		return err
	}
	if _, dbErr := e.remote.GetDatabase(ctx, target); dbErr == nil {
		return fmt.Errorf("%w: %s is a database", shared.ErrTargetTypeInvalid, target)
	}
	return fmt.Errorf("%w: %s: %v", shared.ErrTargetTypeInvalid, target, err)
}

// validateBlockTarget accepts pages and non-database blocks as the parent of
// appended content.
func (e *MaterializeEngine) validateBlockTarget(ctx context.Context, target string) error {
	_, err := e.remote.GetPage(ctx, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrAPIRequest) {
		return err
	}
	if _, dbErr := e.remote.GetDatabase(ctx, target); dbErr == nil {
		return fmt.Errorf("%w: %s is a database", shared.ErrTargetTypeInvalid, target)
	}

	block, blockErr := e.remote.GetBlock(ctx, target)
	if blockErr != nil {
		return fmt.Errorf("resolve target %s: %w", target, blockErr)
	}
	if block.Kind == models.KindChildDatabase {
		return fmt.Errorf("%w: %s is a database", shared.ErrTargetTypeInvalid, target)
	}
	return nil
}

// run holds the state of one materialization.
type run struct {
	e      *MaterializeEngine
	target string
	assets models.AssetMap
	opts   RunOpts
	logger *log.Logger
	result *MaterializeResult
}

func (e *MaterializeEngine) newRun(target string, assets models.AssetMap, opts RunOpts, total int) *run {
	if assets == nil {
		assets = models.AssetMap{}
	}
	return &run{e: e, target: target, assets: assets, opts: opts, logger: e.logger, result: &MaterializeResult{Total: total}}
}

// fatal reports whether err must abort the run. A missing top-level parent
// fails every later write, so it ends the job.
func (m *run) fatal(parentID string, err error) bool {
	return services.IsFatal(err) || (parentID == m.target && errors.Is(err, shared.ErrNotFound))
}

func (m *run) advance(n int) {
	m.result.Processed += n
	m.opts.sendProgress(appendUpdate(m.result.Processed, m.result.Total))
}

// segment is either a container node or a run of consecutive appendable nodes.
type segment struct {
	container *models.Node
	blocks    []*models.Node
}

// partition splits nodes at container kinds so each segment can be written in
// order: runs are appended in batches, containers are created one by one.
func partition(nodes []*models.Node) []segment {
	var out []segment
	var current []*models.Node
	for _, n := range nodes {
		if models.IsContainerKind(n.Kind) {
			if len(current) > 0 {
				out = append(out, segment{blocks: current})
				current = nil
			}
			out = append(out, segment{container: n})
			continue
		}
		current = append(current, n)
	}
	if len(current) > 0 {
		out = append(out, segment{blocks: current})
	}
	return out
}

// appendTree writes nodes under parentID and recurses into their children.
func (m *run) appendTree(ctx context.Context, parentID string, nodes []*models.Node) error {
	for _, seg := range partition(nodes) {
		if err := m.opts.checkpoint(ctx); err != nil {
			return err
		}

		if seg.container != nil {
			if err := m.createContainer(ctx, parentID, seg.container); err != nil {
				return err
			}
			continue
		}

		for start := 0; start < len(seg.blocks); start += services.AppendLimit {
			if err := m.opts.checkpoint(ctx); err != nil {
				return err
			}

			chunk := seg.blocks[start:min(start+services.AppendLimit, len(seg.blocks))]
			ids, err := m.appendChunk(ctx, parentID, chunk)
			if err != nil {
				return err
			}
			m.advance(len(chunk))

			for i, node := range chunk {
				if len(node.Children) == 0 {
					continue
				}
				next := ids[i]
				if next == "" {
					m.result.Fallbacks++
					m.logger.Warn("no id for block, attaching its children to the parent", "block", node.ID, "parent", parentID)
					next = parentID
				}
				if err := m.appendTree(ctx, next, node.Children); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// appendChunk appends chunk in one call and falls back to one call per block
// when the batch is rejected. The returned ids line up with chunk; blocks the
// remote did not create have an empty id.
func (m *run) appendChunk(ctx context.Context, parentID string, chunk []*models.Node) ([]string, error) {
	payloads := make([]services.Block, len(chunk))
	for i, node := range chunk {
		block, err := m.blockPayload(ctx, node)
		if err != nil {
			return nil, err
		}
		payloads[i] = block
	}

	ids, err := m.e.remote.AppendChildren(ctx, parentID, payloads)
	if err == nil {
		out := make([]string, len(chunk))
		copy(out, ids)
		return out, nil
	}
	if m.fatal(parentID, err) {
		return nil, err
	}

	m.logger.Warn("batch append failed, retrying blocks one by one",
		"parent", parentID, "blocks", len(chunk), "err", fmt.Errorf("%w: %v", shared.ErrPartialBatchFailure, err))

	out := make([]string, len(chunk))
	for i, block := range payloads {
		if err := m.opts.checkpoint(ctx); err != nil {
			return nil, err
		}
		single, err := m.e.remote.AppendChildren(ctx, parentID, []services.Block{block})
		if err != nil {
			if m.fatal(parentID, err) {
				return nil, err
			}
			m.result.FailedItems++
			m.logger.Warn("block rejected", "block", chunk[i].ID, "kind", chunk[i].Kind, "err", err)
			continue
		}
		if len(single) > 0 {
			out[i] = single[0]
		}
	}
	return out, nil
}

// createContainer creates a page or database for a container node and writes
// the node's children into it. Children of a container that could not be
// created, and children of databases, go to parentID.
func (m *run) createContainer(ctx context.Context, parentID string, node *models.Node) error {
	newID, err := m.createContainerNode(ctx, parentID, node)
	m.advance(1)
	if err != nil {
		if m.fatal(parentID, err) {
			return err
		}
		m.result.FailedItems++
		m.logger.Warn("container creation failed", "block", node.ID, "kind", node.Kind, "err", err)
		newID = ""
	}

	if newID == "" || node.Kind == models.KindChildDatabase {
		if len(node.Children) > 0 {
			m.result.Fallbacks++
		}
		newID = parentID
	}
	return m.appendTree(ctx, newID, node.Children)
}

func (m *run) createContainerNode(ctx context.Context, parentID string, node *models.Node) (string, error) {
	switch p := node.Payload.(type) {
	case *models.ChildPagePayload:
		return m.e.remote.CreatePage(ctx, parentID, p.Title, nil)
	case *models.ChildDatabasePayload:
		schema := map[string]any{"Name": map[string]any{"title": map[string]any{}}}
		db, err := m.e.remote.CreateDatabase(ctx, parentID, p.Title, schema)
		if err != nil {
			return "", err
		}
		return db.ID, nil
	default:
		return "", fmt.Errorf("%w: container %s has no title payload", shared.ErrInvalidInput, node.Kind)
	}
}

// blockPayload maps a node to its write payload. Asset nodes are uploaded
// through the cache or replaced by a placeholder paragraph.
func (m *run) blockPayload(ctx context.Context, node *models.Node) (services.Block, error) {
	if asset := node.Asset(); asset != nil {
		return m.assetPayload(ctx, node, asset)
	}

	var raw json.RawMessage
	if node.Payload != nil {
		raw = node.Payload.Raw()
	}
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	return services.Block{"object": "block", "type": node.Kind, node.Kind: raw}, nil
}

func (m *run) assetPayload(ctx context.Context, node *models.Node, asset *models.AssetPayload) (services.Block, error) {
	refs := m.assets[node.ID]
	if len(refs) == 0 {
		m.result.Placeholders++
		return placeholder(asset, ""), nil
	}
	ref := refs[0]
	if _, err := os.Stat(ref.LocalPath); err != nil {
		m.result.Placeholders++
		m.logger.Warn("asset file missing, writing placeholder", "block", node.ID, "path", ref.LocalPath)
		return placeholder(asset, ref.OriginalFilename), nil
	}

	uploaded, err := m.e.cache.Get(ctx, ref.LocalPath, m.e.assets.Upload)
	if err != nil {
		if services.IsFatal(err) {
			return nil, err
		}
		m.result.Placeholders++
		m.logger.Warn("asset upload failed, writing placeholder", "block", node.ID, "file", ref.OriginalFilename, "err", err)
		return placeholder(asset, ref.OriginalFilename), nil
	}

	body := map[string]any{
		"type":        "file_upload",
		"file_upload": map[string]any{"id": uploaded.ID},
	}
	if len(asset.Caption) > 0 {
		body["caption"] = asset.Caption
	}
	if node.Kind == "file" && asset.Name != "" {
		body["name"] = asset.Name
	}
	return services.Block{"object": "block", "type": node.Kind, node.Kind: body}, nil
}

// placeholder builds a paragraph naming the unavailable asset followed by its caption.
func placeholder(asset *models.AssetPayload, original string) services.Block {
	if original == "" {
		original = assetName(asset)
	}

	richText := []any{map[string]any{
		"type": "text",
		"text": map[string]any{"content": fmt.Sprintf("[asset unavailable: %s]", original)},
	}}

	var caption []json.RawMessage
	if len(asset.Caption) > 0 && json.Unmarshal(asset.Caption, &caption) == nil && len(caption) > 0 {
		richText = append(richText, map[string]any{"type": "text", "text": map[string]any{"content": " "}})
		for _, c := range caption {
			richText = append(richText, c)
		}
	}

	return services.Block{
		"object":    "block",
		"type":      models.KindParagraph,
		"paragraph": map[string]any{"rich_text": richText},
	}
}

func assetName(asset *models.AssetPayload) string {
	if asset.Name != "" {
		return asset.Name
	}
	return originalName(asset.URL)
}

// MaterializeCapture loads the capture called name from root and materializes it
// under targetID, dispatching on the capture kind.
func (e *MaterializeEngine) MaterializeCapture(ctx context.Context, root, name, targetID string, opts RunOpts) (*MaterializeResult, error) {
	c, err := LoadCapture(root, name)
	if err != nil {
		return nil, err
	}

	amap := BuildAssetMap(c.ManifestNodes(), root)
	if c.Database != nil {
		return e.MaterializeDatabase(ctx, targetID, c.Database, amap, opts)
	}
	return e.Materialize(ctx, targetID, c.Tree, amap, opts)
}
