package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kaimana/rentalsync/internal/syncer"
)

// SyncReservations handles POST /sync: reconcile the requested window of
// upstream reservations into the local store and report the aggregate
// outcome, including partial failures.
func (s *Server) SyncReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := syncer.ParseRequest(q.Get("start_date"), q.Get("end_date"), q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.Engine.Sync(r.Context(), req)
	if err != nil {
		// Only buffer-level I/O failures surface here; per-record and
		// page-level problems ride inside the result.
		log.Error().Err(err).Msg("sync run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	failed := res.Failed
	if failed == nil {
		failed = []syncer.Failure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"message":         "sync completed",
		"total_processed": res.Processed,
		"inserted":        res.Inserted,
		"replaced":        res.Replaced,
		"failed":          failed,
	})
}
