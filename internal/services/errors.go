package services

import "errors"

// Service errors
var (
	// Session errors
	ErrNoActiveSession = errors.New("no active session for client")

	// Stream errors
	ErrNoSubscriber = errors.New("submission requires a subscriber")
)
