package store

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/handeye/internal/httputil"
	"github.com/banshee-data/handeye/internal/monitoring"
)

// Summary counts the rows of each table.
type Summary struct {
	Sessions   int `json:"sessions"`
	Samples    int `json:"samples"`
	Intrinsics int `json:"intrinsic_models"`
	Extrinsics int `json:"extrinsic_results"`
	Motions    int `json:"motions"`
}

// Summary returns row counts for the admin page.
func (s *Store) Summary() (Summary, error) {
	var sum Summary
	err := s.QueryRow(`SELECT
		(SELECT COUNT(*) FROM sessions),
		(SELECT COUNT(*) FROM samples),
		(SELECT COUNT(*) FROM intrinsic_models),
		(SELECT COUNT(*) FROM extrinsic_results),
		(SELECT COUNT(*) FROM motions)`,
	).Scan(&sum.Sessions, &sum.Samples, &sum.Intrinsics, &sum.Extrinsics, &sum.Motions)
	return sum, err
}

// AttachAdminRoutes mounts the debug pages on mux: live SQL via tailsql, a
// row-count summary and a gzipped backup download.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(s.path), s.DB, &tailsql.DBOptions{
		Label: "Calibration DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-summary", "Row counts of the calibration tables", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sum, err := s.Summary()
		if err != nil {
			httputil.Errorf(w, http.StatusInternalServerError, "failed to read summary: %v", err)
			return
		}
		httputil.WriteJSONOK(w, sum)
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(s.serveBackup))
	return nil
}

func (s *Store) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "handeye-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("Failed to remove backup dir: %v", err)
		}
	}()

	name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(dir, name)
	if _, err := s.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("backup: write failed: %v", err)
	}
}
