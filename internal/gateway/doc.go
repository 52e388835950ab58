// Package gateway terminates downstream WebSocket connections and
// translates client subscribe/unsubscribe commands into bus
// subscriptions.
//
// Each connection owns a read pump, a buffered write pump, and a table
// of its active subscriptions. The table is mutated only from the
// connection's own goroutines; teardown cancels every owned
// subscription so nothing outlives the socket. Slow clients have
// frames dropped rather than stalling bus dispatch.
package gateway
