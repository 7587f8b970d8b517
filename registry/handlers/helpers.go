package handlers

import (
	"encoding/json"
	"net/http"
)

// serveJSON marshals v and sets the content-type header to
// application/json. A 200 status is implied; use serveJSONStatus when a
// different code is required.
func serveJSON(w http.ResponseWriter, v interface{}) error {
	return serveJSONStatus(w, http.StatusOK, v)
}

// serveJSONStatus writes the status code and then marshals v into the
// response body.
func serveJSONStatus(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)

	return enc.Encode(v)
}
