package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lsst/qserv-sub024/internal/controller"
	"github.com/lsst/qserv-sub024/internal/dbsvc"
)

// AdminHandlers implements the CLI-equivalent admin endpoints: stats and
// database registration, gated by AuthMiddleware.
type AdminHandlers struct {
	Controller *controller.Controller
	Pool       *dbsvc.Pool
}

func (h *AdminHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Controller.Stats())
}

func (h *AdminHandlers) ListDatabases(w http.ResponseWriter, r *http.Request) {
	names, err := h.Pool.ListDatabases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Databases []string `json:"databases"`
	}{Databases: names})
}

func (h *AdminHandlers) RegisterDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !validDatabaseName(name) {
		writeError(w, http.StatusBadRequest, "BAD_NAME", "database name must match [A-Za-z0-9_]")
		return
	}
	if err := h.Pool.RegisterDatabase(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "REGISTER_FAILED", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) UnregisterDatabase(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !validDatabaseName(name) {
		writeError(w, http.StatusBadRequest, "BAD_NAME", "database name must match [A-Za-z0-9_]")
		return
	}
	if err := h.Pool.UnregisterDatabase(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "UNREGISTER_FAILED", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validDatabaseName enforces section 6's CLI name-validation rule,
// applied uniformly to the HTTP admin surface as well.
func validDatabaseName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}
