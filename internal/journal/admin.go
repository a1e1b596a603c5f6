package journal

import (
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/framelink/internal/httputil"
	"github.com/banshee-data/framelink/internal/monitoring"
	"github.com/banshee-data/framelink/internal/security"
)

type entryView struct {
	Entry
	ID      uint16 `json:"id"`
	Size    uint16 `json:"size"`
	Header  string `json:"header"`
	Payload string `json:"payload,omitempty"`
}

// AttachAdminRoutes mounts the journal pages on the debug mux: recent
// entries, stats, a downloadable backup and a live SQL console.
func (j *Journal) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+j.path, j.db, &tailsql.DBOptions{
		Label: "Frame journal",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("journal", "Most recent journal entries (?limit=N&payload=1)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit := DefaultRecentLimit
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httputil.BadRequest(w, "invalid limit")
				return
			}
			limit = n
		}
		withPayload := r.URL.Query().Get("payload") == "1"

		entries, err := j.Recent(r.Context(), limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to read journal: %v", err))
			return
		}
		views := make([]entryView, 0, len(entries))
		for _, e := range entries {
			v := entryView{Entry: e, ID: e.Packet.ID, Size: e.Packet.Size, Header: e.Packet.HeaderInfo()}
			if withPayload {
				v.Payload = hex.EncodeToString(e.Packet.Payload())
			}
			views = append(views, v)
		}
		httputil.WriteJSONOK(w, views)
	}))

	debug.Handle("journal-stats", "Journal totals", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := j.Stats(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to read journal stats: %v", err))
			return
		}
		httputil.WriteJSONOK(w, s)
	}))

	debug.Handle("journal-backup", "Create and download a gzipped backup of the journal (?name=)", http.HandlerFunc(j.serveBackup))
	return nil
}

// serveBackup snapshots the journal next to the live database, streams it
// gzipped and removes the snapshot.
func (j *Journal) serveBackup(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		name = fmt.Sprintf("backup-%d.db", j.clock.Now().Unix())
	}
	backupPath, err := security.ConfinedPath(filepath.Dir(j.path), name)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := j.Backup(r.Context(), backupPath); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to create backup: %v", err))
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to open backup file: %v", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Logf("failed to stream backup: %v", err)
		return
	}
	if err := gz.Close(); err != nil {
		monitoring.Logf("failed to finish backup stream: %v", err)
	}
}
