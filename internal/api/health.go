package api

import (
	"net/http"
)

// handleHealthReport returns the aggregated store health report:
// gateway/tag fleet counts, today's event totals, recent events, and
// derived issue strings for the dashboard.
func (s *Server) handleHealthReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.health.Report(r.Context())
	if err != nil {
		s.logger.Error("health report failed", "error", err)
		writeInternalError(w, "failed to build health report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
