/*
Package monitoring provides Prometheus metrics collection for the backend.

Tracked metrics cover HTTP requests, WebSocket connections and messages,
live sessions, sandbox lifecycle, run/share/fork operations, and pending
verification waits.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))

# Metrics Endpoint

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
