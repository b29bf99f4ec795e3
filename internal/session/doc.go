// Package session binds one pipeline run to one event stream.
//
// A session is minted per accepted job and its id is the sole
// discriminator clients use to accept or discard events. Submitting a
// new job for the same client key supersedes the previous session:
// the old run is cancelled and the new session becomes the only one the
// client's key resolves to. The registry keeps terminal sessions around
// briefly for introspection and reaps idle ones in the background.
package session
