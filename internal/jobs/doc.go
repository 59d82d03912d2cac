// package jobs runs captures and materializations as background jobs.
//
// A [Manager] owns the job table: it enforces per-type capacity, starts one goroutine per job,
// fans state changes out to subscribers and writes them to job history. A [Scheduler] turns a
// cron expression into recurring dump requests.
package jobs
