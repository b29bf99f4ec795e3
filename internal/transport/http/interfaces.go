package http

import (
	"context"

	"tickerpulse/internal/session"
)

// SessionDirectory is the slice of the analysis service the session
// handler needs.
type SessionDirectory interface {
	// Sessions returns summaries of all resident sessions, oldest first.
	Sessions() []session.Summary

	// CancelSession cooperatively ends a session by id.
	CancelSession(ctx context.Context, id string) error
}
