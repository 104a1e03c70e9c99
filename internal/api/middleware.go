package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openbuilders/pix-bridge/internal/errors"
)

// WithMethod is a middleware that checks if the endpoint was called using a
// specific HTTP method and rejects it otherwise.
func WithMethod(next http.HandlerFunc, method string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, fmt.Sprintf("Only %s method is allowed", method), http.StatusMethodNotAllowed)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// WithJSONResponse wraps an APIHandler and handles JSON response formatting
func WithJSONResponse(handler APIHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Call the handler to get data or error
		data, err := handler(w, r)

		if raw, ok := data.(*RawResponse); ok && err == nil {
			writeRaw(w, raw)
			return
		}

		// Set the Content-Type header
		w.Header().Set("Content-Type", "application/json")

		if err != nil {
			var se errors.ServiceError
			if !stderrors.As(err, &se) {
				slog.Error("API error", "path", r.URL.Path, "error", err)
				se = errors.New(errors.CodeInternal, "internal error", err)
			}

			slog.Debug("ServiceError", "error", se, "stack", se.Err)

			errorResponse := ErrorResponse{
				Ok:               false,
				ErrorCode:        string(se.Code),
				ErrorDescription: se.Message,
			}

			w.WriteHeader(se.HTTPStatus())

			// Encode and send the error response
			if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
				slog.Error("couldn't encode error response", "error", err)
			}
			return
		}

		// Create the success response
		successResponse := SuccessResponse{
			Ok:   true,
			Data: data,
		}

		// Encode and send the success response
		if err := json.NewEncoder(w).Encode(successResponse); err != nil {
			http.Error(w, `{"ok": false, "errorCode": "internal_error", "errorDescription": "Failed to encode success response"}`, http.StatusInternalServerError)
			return
		}
	}
}

func writeRaw(w http.ResponseWriter, raw *RawResponse) {
	if raw.ContentType != "" {
		w.Header().Set("Content-Type", raw.ContentType)
	}

	w.WriteHeader(raw.StatusCode)

	if _, err := w.Write(raw.Body); err != nil {
		slog.Error("couldn't write relayed response", "error", err)
	}
}
