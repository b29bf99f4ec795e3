// Package services implements the business logic layer between the
// transport surfaces (stream, REST) and the pipeline. It owns the
// session lifecycle: commands arriving over the stream become registry
// sessions, runs execute on the session's context, and events flow back
// through the session's publisher into the hub.
//
// Services follow these architectural principles:
//
//	1. Interface-driven design for testability
//	2. Context propagation for cancellation and tracing
//	3. Dependency injection for loose coupling
//	4. Domain-focused methods that encapsulate business rules
//
// # Available Services
//
//	- AnalysisService: session-scoped job submission, comparison fan-out
//	  and cancellation; implements stream.Commands
//	- HealthService: component health and version introspection
//
// # Error Handling
//
// Services return domain-specific errors that handlers can transform:
//
//	- Validation errors for invalid submissions
//	- Not found errors for missing sessions
//	- Internal errors for unexpected failures
package services
