// Package models defines the data model shared by the capture, materialization and job layers.
//
// The package contains three groups of types:
//
// 1. Content tree: the in-memory and on-disk representation of a captured workspace
//   - [Node] : one block with its ordered children and a typed [Payload]
//   - [TreeDocument] : the root of a page capture (tree.json)
//   - [DatabaseDocument] : the root of a database capture, schema plus entries
//
// 2. Capture metadata: what the capture directory contains
//   - [Manifest] and [DatabaseManifest] : per-node asset records (manifest.json)
//   - [AssetRecord] : one downloaded file
//   - [AssetMap] : node id to local files, built from a manifest for materialization
//
// 3. Jobs: background work and its persisted history
//   - [Job] : a point-in-time view of an orchestrated job
//   - [JobEvent] : a subscriber notification
//   - [HistoryEntry], [HistoryEvent], [Statistics] : persisted job history
package models
