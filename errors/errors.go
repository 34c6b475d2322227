package httperrors

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse defines the standard JSON error structure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// RespondWithError logs the internal error and sends a JSON error response.
func RespondWithError(w http.ResponseWriter, logger *slog.Logger, status int, internalError error, userMessage string) {
	if internalError != nil {
		logger.Error("API Error",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
			slog.String("internal_error", internalError.Error()),
		)
	} else {
		logger.Warn("API Response Error",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
		)
	}

	RespondWithJSON(w, logger, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: userMessage,
		Status:  status,
	})
}

// RespondWithJSON writes v as the JSON body with the given status.
func RespondWithJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already written; nothing else can be sent.
		logger.Error("Failed to encode response", slog.String("encoding_error", err.Error()))
	}
}

func BadRequest(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusBadRequest, err, message)
}

func NotFound(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusNotFound, err, message)
}

func InternalServerError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "An unexpected error occurred."
	}
	RespondWithError(w, logger, http.StatusInternalServerError, err, message)
}

func ServiceUnavailable(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "A backing service is unavailable."
	}
	RespondWithError(w, logger, http.StatusServiceUnavailable, err, message)
}
