// Package tasks captures remote workspace trees to disk and materializes captures under new parents.
//
// # Core Operations
//
//  1. [SnapshotEngine.Capture] : page tree to capture directory
//     - Fetches the root page title and creates {slug}_{YYYYMMDD_HHMMSS} under the dump root
//     - Walks children depth first, page by page, preserving remote order
//     - Schedules asset downloads on a bounded pool while walking
//     - Writes tree.json then manifest.json once downloads finish
//
//  2. [SnapshotEngine.CaptureDatabase] : database schema, entries and entry content
//
//  3. [MaterializeEngine.Materialize] : capture to remote
//     - Splits siblings at child_page and child_database nodes
//     - Appends runs in batches of [services.AppendLimit], retrying block by block when a batch fails
//     - Uploads assets once per local file through [UploadCache]
//     - Writes a placeholder paragraph for assets that cannot be uploaded
//
//  4. [MaterializeEngine.MaterializeDatabase] : recreates a database with remapped options
//
// # Progress Reporting
//
// All operations take [RunOpts]. Progress goes to a channel with non-blocking sends,
// and the Canceled hook is polled at every pagination round, batch and container.
//
// # Capture Store
//
// [ListDumps], [LoadCapture], [BuildAssetMap] and [DeleteDump] work on the dump root.
// A capture is ready once both of its files exist.
package tasks
