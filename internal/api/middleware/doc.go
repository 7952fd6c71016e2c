// Package middleware provides the gin middleware shared by the REST and
// websocket routes: CORS policy and per-IP rate limiting.
package middleware
