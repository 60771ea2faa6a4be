package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"bookflow/internal/booking"
	"bookflow/internal/saga"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// statusFor maps a step error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, saga.ErrCallbackNotFound), errors.Is(err, booking.ErrUnknownStep):
		return http.StatusNotFound
	}
	switch saga.ErrorName(err) {
	case saga.NameValidationError:
		return http.StatusBadRequest
	case saga.NameTransientProviderError:
		return http.StatusServiceUnavailable
	case saga.NameFatalProviderError:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func nameFor(err error) string {
	switch {
	case errors.Is(err, saga.ErrCallbackNotFound):
		return "CallbackNotFound"
	case errors.Is(err, booking.ErrUnknownStep):
		return "UnknownStep"
	}
	if name := saga.ErrorName(err); name != "" {
		return name
	}
	return "InternalError"
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, name, message, code string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Name: name, Message: message, Code: code}})
}

// writeStepError reports err without leaking internals on 500s.
func writeStepError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, status, nameFor(err), message, saga.ErrorCode(err))
}
