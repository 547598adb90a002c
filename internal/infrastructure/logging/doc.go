// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: sampled JSON output for machine parsing
//   - Development: colored console output for humans
//
// The level is atomic and can be changed while the navigator runs, either
// through SetLevel or the HTTP handler returned by LevelHandler.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	nav := navigation.New(engine, opts, logger.Component("navigator"))
//	logger.Info("Server starting", zap.String("port", "8000"))
package logging
