// Package config handles loading and validating MacroForge Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with MACROFORGE_* environment variables
//   - Validation of numeric ranges (thresholds, humanizer delays, ports)
//   - Default value handling
//
// The loaded Config is an explicit value. It is passed into the matcher,
// humanizer, engine, scheduler and sequencer at construction; nothing reads a
// process-wide singleton.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Matching.ConfidenceThreshold)
package config
