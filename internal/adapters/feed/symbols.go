// Package feed provides price tick sources for the engine: a Binance trade
// stream over websocket and a REST ticker poller used as fallback.
package feed

import "strings"

// exchangeSymbol maps "BTC-USDT" (or "btc/usdt") to Binance's "BTCUSDT".
func exchangeSymbol(symbol string) string {
	r := strings.NewReplacer("-", "", "/", "", "_", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(symbol)))
}

// symbolIndex resolves exchange symbols back to the caller's spelling.
type symbolIndex map[string]string

func newSymbolIndex(symbols []string) symbolIndex {
	idx := make(symbolIndex, len(symbols))
	for _, s := range symbols {
		idx[exchangeSymbol(s)] = s
	}
	return idx
}

// lookup returns the caller's symbol for an exchange symbol, ok=false when the
// symbol was not subscribed.
func (idx symbolIndex) lookup(exchange string) (string, bool) {
	s, ok := idx[strings.ToUpper(exchange)]
	return s, ok
}

func (idx symbolIndex) exchangeSymbols() []string {
	out := make([]string, 0, len(idx))
	for k := range idx {
		out = append(out, k)
	}
	return out
}
