// Package api implements the HTTP surface consumed by the core (spec §6):
// artifact submission, job status/result, job listing, webhook attachment,
// cancellation, the FullCalendar projection, and DLQ housekeeping. It uses
// Chi as the router, the same envelope-and-error-code shape the teacher's
// own api package uses, adapted to the {success, data} envelope spec §6
// specifies.
package api

import (
	"encoding/json"
	"net/http"
)

// envelope is the standard JSON response wrapper. Successful responses set
// success=true and carry the payload under "data"; error responses set
// success=false and carry a message/code pair under "error".
type envelope struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Error   *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// JSON writes a JSON-encoded response with the given status code.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK success envelope.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, envelope{Success: true, Data: payload})
}

// Accepted writes a 202 Accepted success envelope — the Submission Facade's
// response shape (spec §6).
func Accepted(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusAccepted, envelope{Success: true, Data: payload})
}

// NoContent writes a 204 No Content response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// errJSON writes an error envelope with the given status, message, and
// machine-readable code.
func errJSON(w http.ResponseWriter, status int, message, code string) {
	JSON(w, status, envelope{Success: false, Error: &errorBody{Message: message, Code: code}})
}

// ErrBadRequest writes a 400 Bad Request error response.
func ErrBadRequest(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusBadRequest, message, "bad_request")
}

// ErrUnsupportedType writes a 415 Unsupported Media Type error response,
// for artifacts whose MIME is not one the Preprocessor can handle.
func ErrUnsupportedType(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusUnsupportedMediaType, message, "unsupported_type")
}

// ErrPayloadTooLarge writes a 413 Payload Too Large error response, for
// artifacts exceeding the 10 MiB submission limit (spec §4.1).
func ErrPayloadTooLarge(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusRequestEntityTooLarge, message, "payload_too_large")
}

// ErrNotFound writes a 404 Not Found error response.
func ErrNotFound(w http.ResponseWriter) {
	errJSON(w, http.StatusNotFound, "resource not found", "not_found")
}

// ErrConflict writes a 409 Conflict error response — used when a cancel
// request targets a job that is no longer Pending (spec §5).
func ErrConflict(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusConflict, message, "conflict")
}

// ErrUnprocessable writes a 422 Unprocessable Entity error response.
func ErrUnprocessable(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusUnprocessableEntity, message, "validation_error")
}

// ErrInternal writes a 500 Internal Server Error response. The internal
// error detail is intentionally not exposed to the client.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "an internal error occurred", "internal_error")
}

// decodeJSON decodes the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MiB limit, plenty for metadata bodies
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}
