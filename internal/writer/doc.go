// Package writer drains canonical events from the bus into the
// persistence collaborator.
//
// Bus delivery is synchronous, so the subscriber callback only appends
// to an in-memory buffer; a background loop batches buffered events and
// flushes them on a size threshold or a ticker. Duplicate events are
// absorbed by the store's dedup key, so replays after a reconnect are
// harmless.
package writer
