// Package stream carries pipeline events to WebSocket subscribers.
//
// Routing is per session: each session has at most one subscriber, a new
// attach supersedes the old one, and events for sessions nobody watches
// are dropped rather than replayed. Delivery never blocks a publisher;
// a subscriber that cannot keep up loses events, not the connection.
package stream
