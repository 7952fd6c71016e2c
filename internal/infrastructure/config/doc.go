// Package config provides 12-factor configuration management for the backend.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional YAML file (CONFIG_FILE) can override individual keys.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Storage: fiddle persistence backend (fs or redis)
//   - Sandbox: script execution runtime (containerd or process)
//   - Verify: human-verification provider settings
//   - Share: public share URL construction
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
