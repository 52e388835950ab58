package model

import (
	"fmt"
	"time"
)

// Interval is a fixed candle bucket width. Only the values listed in
// SupportedIntervals are valid; anything else is a caller error, never a
// silent fallback.
type Interval string

const (
	Interval1s  Interval = "1s"
	Interval5s  Interval = "5s"
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
)

// SupportedIntervals lists every valid candle interval in ascending order.
var SupportedIntervals = []Interval{
	Interval1s, Interval5s, Interval1m, Interval5m, Interval15m, Interval1h, Interval1d,
}

var intervalDurations = map[Interval]time.Duration{
	Interval1s:  time.Second,
	Interval5s:  5 * time.Second,
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval1h:  time.Hour,
	Interval1d:  24 * time.Hour,
}

// ParseInterval validates an interval string.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unsupported candle interval %q", s)
	}
	return iv, nil
}

// Duration returns the interval width. Zero for invalid intervals.
func (iv Interval) Duration() time.Duration {
	return intervalDurations[iv]
}

// Millis returns the interval width in milliseconds.
func (iv Interval) Millis() int64 {
	return intervalDurations[iv].Milliseconds()
}

// Truncate floors a millisecond timestamp to the open time of the bucket
// containing it.
func (iv Interval) Truncate(tsMillis int64) int64 {
	w := iv.Millis()
	if w <= 0 {
		return tsMillis
	}
	return tsMillis - tsMillis%w
}

// Candle is an OHLCV summary of the trades inside one interval bucket.
// A bucket with zero trades produces no candle at all; callers must
// handle sparse series explicitly.
type Candle struct {
	ScopeID  string   `json:"scopeId"`
	Outcome  Outcome  `json:"outcome,omitempty"`
	Interval Interval `json:"interval"`
	OpenTime int64    `json:"openTime"`
	Open     string   `json:"open"`
	High     string   `json:"high"`
	Low      string   `json:"low"`
	Close    string   `json:"close"`
	Volume   string   `json:"volume"`
}
