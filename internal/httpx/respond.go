// Package httpx holds the JSON envelope shared by every handler.
package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// JSON writes {"success": true, ...fields}.
func JSON(w http.ResponseWriter, status int, fields map[string]interface{}) {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	write(w, status, body)
}

// Error writes {"success": false, "error": msg}.
func Error(w http.ResponseWriter, status int, msg string) {
	write(w, status, map[string]interface{}{"success": false, "error": msg})
}

func write(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Decode reads a JSON request body into v. An empty body is an error.
func Decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// QueryInt returns the integer query parameter key, or def when it is
// missing or malformed.
func QueryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
