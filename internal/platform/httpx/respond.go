package httpx

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// decodeLimit caps request bodies; no document carries anywhere near
// this many lines.
const decodeLimit = 1 << 20

// ProblemDetail is the RFC7807 body every error response carries.
type ProblemDetail struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON writes data as a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem writes an RFC7807 problem response. The type URI is derived
// from the title so clients can switch on it without parsing text.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	JSON(w, status, ProblemDetail{
		Type:   problemType(title),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func problemType(title string) string {
	return "/problems/" + strings.ToLower(strings.ReplaceAll(title, " ", "-"))
}

// DecodeJSON decodes the request body into target, capped at decodeLimit.
func DecodeJSON(r *http.Request, target any) error {
	return json.NewDecoder(io.LimitReader(r.Body, decodeLimit)).Decode(target)
}
