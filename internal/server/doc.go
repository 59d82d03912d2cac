// Package server exposes the job orchestrator and capture store over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation registers "METHOD /path" patterns on [http.ServeMux], so path
// wildcards like {id} are available through [http.Request.PathValue] and other methods get a 405.
//
// # Handlers
//
// Each [Handler] groups the routes of one resource:
//
//   - [JobsHandler]: GET /jobs, POST /jobs/dump, /jobs/dump_database, /jobs/migrate,
//     POST /jobs/{id}/cancel, /jobs/{id}/remove and the GET /jobs/stream event stream
//   - [HistoryHandler]: GET /jobs/history, /jobs/history/dates, /jobs/history/{date}, /jobs/statistics
//   - [DumpsHandler]: GET /api/dumps, GET /api/dumps/{name}/manifest, DELETE /api/dumps/{name}
//
// GET /health reports liveness and /files/ serves the dump root read-only.
//
// # Errors
//
// Handlers reply with {"ok": false, "error": "..."} and map sentinel errors from the shared
// package: capacity exceeded is 429, invalid identifiers, arguments and dump names are 400,
// unknown resources are 404 and incomplete dumps are 409.
//
// # Job Stream
//
// The stream subscribes to the orchestrator, writes each event as a "data:" frame and sends
// "event: ping" while idle. The subscription is dropped when the client disconnects.
package server
