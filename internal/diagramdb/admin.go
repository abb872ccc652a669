package diagramdb

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/bundle.evolution/internal/monitoring"
)

// AttachAdminRoutes mounts tailsql and a backup endpoint on the /debug/
// pages of mux.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux, label string) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://diagrams.db", s.db, &tailsql.DBOptions{
		Label: label,
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Download a snapshot of the diagram database", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "diagramdb-backup")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
			return
		}
		defer os.RemoveAll(dir)

		name := fmt.Sprintf("diagrams-%d.db", time.Now().Unix())
		path := filepath.Join(dir, name)
		if _, err := s.db.ExecContext(r.Context(), "VACUUM INTO ?", path); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		monitoring.Infof(monitoring.TagStore, "serving backup %s", name)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, path)
	}))
	return nil
}
