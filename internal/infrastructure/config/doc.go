// Package config provides 12-factor configuration for the navigator.
//
// Configuration is loaded from environment variables with defaults, optionally
// overlaid by a YAML or TOML file, and finally by CLI flags in cmd/server.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting
//   - Navigation: timeout ladder and retry budget
//   - Engine: which page engine to drive and how
//
// Example Usage:
//
//	cfg, err := config.LoadFile("navigator.yaml")
//	ctrl := navigation.New(engine, cfg.NavigationOptions(), logger)
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - NAV_DEFAULT_TIMEOUT_MS, NAV_SOFT_MULTIPLIER, NAV_HARD_MULTIPLIER
//   - NAV_HEARTBEAT_INTERVAL_MS, NAV_HEARTBEAT_TIMEOUT_MS, NAV_GRACE_PERIOD_MS
//   - NAV_MITIGATION_TIMEOUT_MS, NAV_MAX_RETRIES
//   - ENGINE_KIND, ENGINE_USER_AGENT, ENGINE_REQUEST_TIMEOUT_MS, ENGINE_SANDBOX_POOL
//   - ENGINE_SCRIPT_TIMEOUT_MS, ENGINE_REQUESTS_PER_HOST
//   - CHROME_BIN, CHROME_DEBUGGER_URL, CHROME_HEADLESS
package config
