// Package config provides configuration management for the Luminex
// post-processor. It loads settings from the environment and an optional
// YAML file, validates them, and resolves the directories a run reads from
// and writes to.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. Configuration file (YAML)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LUMINEX_* for namespacing:
//
//	LUMINEX_PIPELINE_SOURCE=/data/raw
//	LUMINEX_PIPELINE_DESTINATION=/data/processed
//	LUMINEX_PIPELINE_REQUIRED_REPLICATES=3
//	LUMINEX_DIAGNOSTICS_DRAW=true
//	LUMINEX_LOGGING_LEVEL=debug
//
// # Path Management
//
// Paths resolves every location a run touches from a loaded Config:
//
//	paths, err := config.ResolvePaths(cfg)
//	target := paths.OutputWorkbook("P0412")
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// For testing, Default() returns a configuration that needs no environment.
package config
