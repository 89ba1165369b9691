// Package middleware provides HTTP middleware for the schedule-agent API.
package middleware

import "net/http"

// CORS sets permissive cross-origin headers on every response. The API is
// deliberately open: the browser front end may be served from any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		next.ServeHTTP(w, r)
	})
}
