// Package candle derives OHLCV candles on demand from the normalized
// trade stream.
//
// Candles are never persisted. A query merges durable trades from the
// persistence collaborator with a bounded in-memory tail of recent bus
// trades (events published but possibly not yet flushed), dedups on the
// event key, and folds interval buckets with decimal arithmetic.
// Recomputing over the same event set yields byte-identical candles.
package candle
