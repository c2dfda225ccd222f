package api

import (
	"net/http"

	"github.com/stagerui/stager-ui/internal/config"
	"github.com/stagerui/stager-ui/internal/fsbrowse"
)

// handleFSDir handles GET /fs/dir?dir=<path>&isRoot=<bool>.
func (s *Server) handleFSDir(w http.ResponseWriter, r *http.Request) {
	dir, isRoot := dirQuery(r)
	if dir == "" {
		dir = s.module(config.ModuleFS).RootDir
	}
	s.writeJSON(w, http.StatusOK, fsbrowse.List(r.Context(), dir, isRoot))
}

// dirQuery reads the jsTree lazy-load parameters.
func dirQuery(r *http.Request) (dir string, isRoot bool) {
	q := r.URL.Query()
	return q.Get("dir"), q.Get("isRoot") == "true"
}
