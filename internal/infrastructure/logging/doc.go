// Package logging provides structured logging for MacroForge Core.
//
// It wraps log/slog with a JSON (default) or text handler, level filtering
// and default service/version fields.
//
// Configuration lives in the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("run started", "run_id", id, "script", name)
//	logger.Error("capture failed", "error", err)
package logging
