// Package http contains the REST handlers for introspection and
// control: health and version, session listing and cancellation. The
// event stream itself lives in internal/stream; these handlers only
// observe and cancel what the stream started.
//
// Handlers follow the service pattern: a thin struct holding the
// service and a logger, render for responses, RFC 7807 problems for
// rejections.
package http
