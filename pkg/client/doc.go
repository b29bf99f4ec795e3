// Package client is the Go SDK for the TickerPulse stream.
//
// A Client is a single-threaded reactive state machine: one run loop
// consumes commands, inbound frames and the retry timer, so the fold
// path needs no locks. Unplanned disconnects mid-job trigger bounded
// exponential reconnection; every reconnect resubmits the job, which
// restarts it under a fresh session id. Events are only folded into the
// local JobView when their session id matches the tracked session, so
// trailing frames from a superseded run can never corrupt a newer one.
package client
