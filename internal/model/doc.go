// Package model defines the canonical event types shared across the
// streaming core.
//
// Every upstream wire shape is normalized into an Event before it reaches
// the bus, the gateway, or the persistence layer. Prices and sizes are
// carried as decimal strings, never floats, so no rounding drift is
// introduced between the exchange wire format and downstream consumers.
package model
