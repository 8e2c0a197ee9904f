package httpapi

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kaimana/rentalsync/internal/projection"
	"github.com/kaimana/rentalsync/internal/reservation"
	"github.com/kaimana/rentalsync/internal/syncer"
	"github.com/kaimana/rentalsync/internal/upstream"
)

// GetReservations handles GET /reservations: a direct pass-through query of
// the upstream API with normalization and optional field projection. Nothing
// is persisted on this path.
func (s *Server) GetReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := syncer.ParseRequest(q.Get("start_date"), q.Get("end_date"), q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fields := projection.Parse(q.Get("fields"))

	var data []map[string]any
	ferr := s.Source.Fetch(r.Context(), upstream.Query{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Statuses:  req.Statuses,
	}, func(payload map[string]any) error {
		data = append(data, fields.Apply(reservation.Normalize(payload)))
		return nil
	})
	if ferr != nil {
		log.Error().Err(ferr).Msg("pass-through fetch failed")
		writeError(w, upstreamStatusCode(ferr), ferr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"total":   len(data),
		"data":    data,
	})
}

// upstreamStatusCode maps a fetch failure onto a response status: permanent
// upstream rejections pass their code through, everything else is a bad
// gateway.
func upstreamStatusCode(err error) int {
	var se *upstream.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		return se.Code
	}
	return http.StatusBadGateway
}
