// Package config provides centralized configuration for the TickerPulse
// service.
//
// # Sources
//
// Configuration resolves in three layers, later layers winning:
//
//	1. Built-in defaults (Default)
//	2. Optional YAML file (tickerpulse.yaml, configs/tickerpulse.yaml,
//	   or the path in TICKERPULSE_CONFIG)
//	3. TICKERPULSE_* environment variables
//
// # Environment Variables
//
// Variables follow the pattern TICKERPULSE_<SECTION>_<FIELD>:
//
//	TICKERPULSE_SERVER_PORT=8080
//	TICKERPULSE_AUTH_TOKENS=alpha,beta
//	TICKERPULSE_PIPELINE_JOB_TIMEOUT=90s
//	TICKERPULSE_PIPELINE_WORKER_TIMEOUTS=analyst-sentiment:45s
//	TICKERPULSE_LOGGING_LEVEL=debug
//
// # Usage
//
// Load configuration once at startup:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Validation runs as part of Load and rejects out-of-range values, so a
// *Config obtained from Load is always usable.
package config
