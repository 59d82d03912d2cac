package server

import (
	"net/http"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/nbx/internal/formatter"
	"github.com/desertthunder/nbx/internal/tasks"
)

// DumpsHandler lists and deletes capture directories under the dump root.
type DumpsHandler struct {
	root   string
	logger *log.Logger
}

// NewDumpsHandler creates a [DumpsHandler].
func NewDumpsHandler(root string, logger *log.Logger) *DumpsHandler {
	return &DumpsHandler{root: root, logger: logger}
}

func (h *DumpsHandler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/api/dumps", h.list},
		{http.MethodGet, "/api/dumps/{name}/manifest", h.manifest},
		{http.MethodDelete, "/api/dumps/{name}", h.delete},
	}
}

func (h *DumpsHandler) list(w http.ResponseWriter, _ *http.Request) {
	dumps, err := tasks.ListDumps(h.root)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"root": h.root, "items": dumps})
}

// manifest serves manifest.json of a ready capture as a download.
func (h *DumpsHandler) manifest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	capture, err := tasks.LoadCapture(h.root, name)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`_manifest.json"`)
	http.ServeFile(w, r, filepath.Join(capture.Dir, formatter.ManifestFile))
}

func (h *DumpsHandler) delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := tasks.DeleteDump(h.root, name); err != nil {
		writeErr(w, err)
		return
	}
	h.logger.Info("dump deleted", "name", name)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": name})
}
