package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type JsonResponseStatus string

const (
	JsonResponseStatusSuccess JsonResponseStatus = "success"
	JsonResponseStatusFailed  JsonResponseStatus = "failed"
)

type JsonResponseErrorCode string

const (
	JsonResponseErrorCodeInvalidJson      JsonResponseErrorCode = "invalid_json"
	JsonResponseErrorCodeValidationFailed JsonResponseErrorCode = "validation_failed"
	JsonResponseErrorCodeInternal         JsonResponseErrorCode = "internal"
	JsonResponseErrorCodeNotFound         JsonResponseErrorCode = "not_found"
	JsonResponseErrorCodeConflict         JsonResponseErrorCode = "conflict"
	JsonResponseErrorCodeUpstream         JsonResponseErrorCode = "upstream_failed"
)

type ErrorResponse struct {
	Status  JsonResponseStatus    `json:"status"`
	Code    JsonResponseErrorCode `json:"code"`
	Message string                `json:"message"`
	Errors  map[string][]string   `json:"errors,omitempty"`
}

func JsonResponseError(code JsonResponseErrorCode, message string, errors map[string][]string) *ErrorResponse {
	return &ErrorResponse{
		Status:  JsonResponseStatusFailed,
		Code:    code,
		Message: message,
		Errors:  errors,
	}
}

type RenderOption = func(w http.ResponseWriter, r *http.Request)

type Renderer struct{}

func (Renderer) Status(status int) RenderOption {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

var Render = Renderer{}

func RenderJSON(w http.ResponseWriter, r *http.Request, payload any, opts ...RenderOption) {
	w.Header().Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(w, r)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func renderError(w http.ResponseWriter, r *http.Request, status int, code JsonResponseErrorCode, message string) {
	RenderJSON(w, r, JsonResponseError(code, message, nil), Render.Status(status))
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return decoder.Decode(dst)
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
