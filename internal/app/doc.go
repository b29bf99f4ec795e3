// Package app provides application initialization and lifecycle
// management for the TickerPulse analysis server. It wires configuration
// loading, observability, the stream hub, the session registry, the
// pipeline orchestrator and the HTTP surface into one container.
//
// # Architecture
//
// The app package follows a dependency injection pattern where all
// components are wired together at startup. This ensures loose coupling
// and testability.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//	1. Load configuration from environment and files
//	2. Initialize logging and observability
//	3. Start the stream hub and session registry
//	4. Register the worker roster and build the orchestrator
//	5. Set up HTTP handlers and middleware
//	6. Configure the HTTP server
//
// # Usage
//
// The main entry point is typically:
//
//	application, err := app.NewApplication()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// The package handles SIGINT and SIGTERM signals to ensure:
//
//	- Active requests are completed
//	- Stream connections are closed cleanly
//	- Resident sessions are cancelled and released
//	- Final traces and metrics are flushed
//
// # Error Handling
//
// All initialization errors are returned to the caller for proper
// handling. The app does not call os.Exit() directly, allowing the main
// function to control the exit process.
package app
