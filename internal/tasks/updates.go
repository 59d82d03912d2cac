package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the orchestrator, CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when unknown
	Percent int    // Overall completion 0-100
	Message string // Human-readable message for display
}

// Operation phase enumeration
type Phase int

const (
	ResolveTarget Phase = iota
	FetchRoot
	WalkTree
	QueryEntries
	DownloadAssets
	WriteCapture
	CreateDatabase
	AppendBlocks
	CreateEntries
	Complete
)

func (p Phase) String() string {
	switch p {
	case ResolveTarget:
		return "resolve_target"
	case FetchRoot:
		return "fetch_root"
	case WalkTree:
		return "walk_tree"
	case QueryEntries:
		return "query_entries"
	case DownloadAssets:
		return "download_assets"
	case WriteCapture:
		return "write_capture"
	case CreateDatabase:
		return "create_database"
	case AppendBlocks:
		return "append_blocks"
	case CreateEntries:
		return "create_entries"
	case Complete:
		return "complete"
	default:
		return ""
	}
}

func resolveUpdate(id string) ProgressUpdate {
	return ProgressUpdate{Phase: ResolveTarget, Step: 1, Total: 1, Percent: 1, Message: fmt.Sprintf("Resolving %s", id)}
}

func fetchRootUpdate(title string) ProgressUpdate {
	return ProgressUpdate{Phase: FetchRoot, Step: 1, Total: 1, Percent: 3, Message: fmt.Sprintf("Fetched %q", title)}
}

// walkUpdate maps the number of fetched blocks onto 5-85%; the total is unknown
// while walking so the curve flattens as the count grows.
func walkUpdate(blocks int) ProgressUpdate {
	pct := 5 + 80*blocks/(blocks+200)
	return ProgressUpdate{Phase: WalkTree, Step: blocks, Percent: pct, Message: fmt.Sprintf("Fetched %d blocks", blocks)}
}

func queryEntriesUpdate(entries int) ProgressUpdate {
	return ProgressUpdate{Phase: QueryEntries, Step: entries, Percent: 5, Message: fmt.Sprintf("Found %d entries", entries)}
}

func entryWalkUpdate(step, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WalkTree,
		Step:    step,
		Total:   total,
		Percent: 5 + 80*step/max(total, 1),
		Message: fmt.Sprintf("Captured %d/%d entries", step, total),
	}
}

func downloadUpdate(pending int) ProgressUpdate {
	return ProgressUpdate{Phase: DownloadAssets, Step: pending, Percent: 90, Message: fmt.Sprintf("Waiting for %d downloads", pending)}
}

func writeCaptureUpdate() ProgressUpdate {
	return ProgressUpdate{Phase: WriteCapture, Step: 1, Total: 1, Percent: 95, Message: "Writing capture files"}
}

func createDatabaseUpdate(title string) ProgressUpdate {
	return ProgressUpdate{Phase: CreateDatabase, Step: 1, Total: 1, Percent: 2, Message: fmt.Sprintf("Creating database %q", title)}
}

func appendUpdate(processed, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   AppendBlocks,
		Step:    processed,
		Total:   total,
		Percent: percent(processed, total),
		Message: fmt.Sprintf("Migrated %d/%d blocks", processed, total),
	}
}

func completeUpdate(message string) ProgressUpdate {
	return ProgressUpdate{Phase: Complete, Step: 1, Total: 1, Percent: 100, Message: message}
}

func percent(step, total int) int {
	if total <= 0 {
		return 100
	}
	return min(100, step*100/total)
}
