package api

import "net/http"

// ErrorResponse is the envelope of every non-action failure.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ActionErrorResponse is the failure shape of form-posted action endpoints,
// where clients branch on "ok" before looking at the error body.
type ActionErrorResponse struct {
	OK    bool     `json:"ok"`
	Error APIError `json:"error"`
}

func WriteError(w http.ResponseWriter, status int, code, message, requestID string, details map[string]any) {
	WriteJSON(w, status, ErrorResponse{Error: APIError{Code: code, Message: message, Details: details, RequestID: requestID}})
}

func WriteActionError(w http.ResponseWriter, status int, code, message, requestID string) {
	WriteJSON(w, status, ActionErrorResponse{Error: APIError{Code: code, Message: message, RequestID: requestID}})
}
