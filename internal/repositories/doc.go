// Package repositories implements SQLite persistence for job history.
//
// Key Implementations:
//   - [HistoryRepository] : one row per job, patched as the job changes state, with
//     per-day, range and statistics queries
//
// Days are local calendar dates (YYYY-MM-DD) stored alongside each row so that day
// queries never depend on timestamp formatting. Timestamps are stored in UTC.
package repositories
