// Package services defines the [RemoteTree] and [AssetTransfer] interfaces and implements them for the Notion API.
//
// # Remote Tree
//
// [NotionClient] covers the calls needed to capture and rebuild a workspace: page, block and
// database retrieval, paginated children listing, batched block append (at most [AppendLimit]),
// page, database and entry creation, and database queries.
//
// Every request goes through a single loop that waits on a client-side rate limiter, sends the
// bearer token via [oauth2.Transport] and the Notion-Version header, and retries network errors,
// 429 and 5xx responses with exponential backoff. Retry-After is honored when present.
//
// # Asset Transfer
//
// [HTTPAssetTransfer] downloads signed asset URLs to disk with a size ceiling and uploads local
// files through the two step file upload API (create, then send as multipart).
//
// # Error Handling
//
// Failures map onto the shared sentinels:
//   - [shared.ErrAuthFailed] : 401 or 403
//   - [shared.ErrNotFound] : 404
//   - [shared.ErrAPIRequest] : any other 4xx, carried by [APIError]
//   - [shared.ErrTransientRemote] : retries exhausted
//   - [shared.ErrAssetTooLarge], [shared.ErrAssetUploadFailed] : asset transfer
package services
