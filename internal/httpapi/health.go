package httpapi

import (
	"net/http"

	"github.com/lsst/qserv-sub024/internal/dbsvc"
)

// HealthHandlers implements the unauthenticated /health endpoint.
type HealthHandlers struct {
	Pool *dbsvc.Pool
}

func (h *HealthHandlers) Check(w http.ResponseWriter, r *http.Request) {
	if err := h.Pool.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "OK"})
}
