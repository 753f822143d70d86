package httpapi

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON shape for every non-2xx response, per section
// 6/7: a top-level status field, a single human message, and the
// machine-readable code.
type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, httpStatus int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(errorBody{Status: "ERROR", Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, httpStatus int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(body)
}
