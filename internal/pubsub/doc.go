// Package pubsub implements the in-process fan-out bus.
//
// Publishers deliver canonical events synchronously, in registration
// order, to every subscriber of a channel. A faulty subscriber is
// isolated: its panic is recovered and logged so that delivery to the
// remaining subscribers and the publisher are never affected.
//
// Subscriptions are ephemeral view state, not a correctness-critical
// store. A Cancel that races a concurrent Publish may observe one final
// delivery; callers must treat cancellation as eventually consistent.
package pubsub
