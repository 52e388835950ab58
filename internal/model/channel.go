package model

// Channel keys for the pub/sub bus. Channels have no independent
// lifecycle; they exist only as entries in subscriber maps and are
// created implicitly on first subscribe.

// MarketOrderbookChannel keys orderbook updates for one market.
func MarketOrderbookChannel(marketID string) string {
	return "market:" + marketID + ":orderbook"
}

// MarketPriceChannel keys best-bid/ask updates for one market.
func MarketPriceChannel(marketID string) string {
	return "market:" + marketID + ":price"
}

// MarketTradesChannel keys executed trades for one market.
func MarketTradesChannel(marketID string) string {
	return "market:" + marketID + ":trades"
}

// InstrumentPriceChannel keys price updates for an instrument-scoped
// feed (no outcome dimension).
func InstrumentPriceChannel(instrumentID string) string {
	return "instrument:" + instrumentID + ":price"
}

// ChannelFor returns the bus channel an event is published on.
func ChannelFor(e Event) string {
	switch e.Kind {
	case KindTrade:
		return MarketTradesChannel(e.MarketID)
	case KindOrderbook:
		return MarketOrderbookChannel(e.MarketID)
	default:
		return MarketPriceChannel(e.MarketID)
	}
}
