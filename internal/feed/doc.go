// Package feed implements the upstream exchange client.
//
// The Client owns the single WebSocket connection to the exchange: it
// connects, heartbeats, reconnects with capped exponential backoff,
// tracks subscriptions so they survive disconnects, and normalizes the
// exchange's heterogeneous frame shapes into canonical events.
//
// Publishing normalized events onto the bus belongs to the owner of the
// Client, not to this package; the Client hands events to the single
// handler registered via OnMessage.
package feed
