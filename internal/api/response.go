package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lexbr/intakeflow/internal/models"
)

// fallbackErrorResponse is the pre-marshaled body served when a response
// value itself fails to encode. Marshaled once at startup so the failure
// path never depends on runtime encoding.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals response and writes it with the given status.
// Marshaling happens before any header is written, so an encoding failure
// can still downgrade the reply to the canned 500 body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
