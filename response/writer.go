package response

import (
	"encoding/json"
	"net/http"
)

// WriteError writes e as the JSON error envelope with its status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(e)
}

// WriteResponse writes result as JSON with 200 OK
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(struct {
		Result interface{} `json:"result"`
	}{
		Result: result,
	})
}
