package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	defaultStreamBase = "wss://stream.binance.com:9443"

	readTimeout  = 30 * time.Second
	pingInterval = 15 * time.Second
	maxBackoff   = 30 * time.Second
)

type streamEnvelope struct {
	Stream string      `json:"stream"`
	Data   streamTrade `json:"data"`
}

type streamTrade struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
}

// Stream implementa ports.PriceFeed sobre el combined trade stream de Binance.
// Reconecta con backoff exponencial; el canal se cierra al cancelar ctx.
type Stream struct {
	base      string
	buffer    int
	baseRetry time.Duration
}

// NewStream crea un feed websocket. base vacío usa producción.
func NewStream(base string, buffer int) *Stream {
	if base == "" {
		base = defaultStreamBase
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Stream{base: strings.TrimRight(base, "/"), buffer: buffer, baseRetry: time.Second}
}

// Subscribe abre el stream para los símbolos dados.
func (s *Stream) Subscribe(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("feed.Stream.Subscribe: no symbols")
	}
	idx := newSymbolIndex(symbols)
	url := s.streamURL(idx)

	out := make(chan domain.PriceTick, s.buffer)
	go func() {
		defer close(out)
		s.run(ctx, url, idx, out)
	}()
	return out, nil
}

func (s *Stream) streamURL(idx symbolIndex) string {
	syms := idx.exchangeSymbols()
	sort.Strings(syms)
	streams := make([]string, len(syms))
	for i, sym := range syms {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.base, strings.Join(streams, "/"))
}

func (s *Stream) run(ctx context.Context, url string, idx symbolIndex, out chan<- domain.PriceTick) {
	backoff := s.baseRetry
	for ctx.Err() == nil {
		received, err := s.consume(ctx, url, idx, out)
		if ctx.Err() != nil {
			return
		}
		if received {
			backoff = s.baseRetry
		}
		slog.Warn("feed: stream disconnected, retrying", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*2))
	}
}

// consume lee del stream hasta error. received indica si llegó algún tick,
// para reiniciar el backoff tras una conexión sana.
func (s *Stream) consume(ctx context.Context, url string, idx symbolIndex, out chan<- domain.PriceTick) (received bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	slog.Info("feed: stream connected", "symbols", len(idx))

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-connCtx.Done():
				// desbloquea ReadMessage
				conn.Close()
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		tick, ok := decodeTrade(msg, idx)
		if !ok {
			continue
		}
		received = true
		select {
		case out <- tick:
		case <-ctx.Done():
			return received, ctx.Err()
		}
	}
}

func decodeTrade(msg []byte, idx symbolIndex) (domain.PriceTick, bool) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Debug("feed: undecodable stream message", "err", err)
		return domain.PriceTick{}, false
	}
	sym := env.Data.Symbol
	if sym == "" {
		sym, _, _ = strings.Cut(env.Stream, "@")
	}
	symbol, ok := idx.lookup(sym)
	if !ok {
		return domain.PriceTick{}, false
	}
	px, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil || px <= 0 {
		slog.Debug("feed: invalid trade price", "symbol", symbol, "price", env.Data.Price)
		return domain.PriceTick{}, false
	}
	ts := time.Now()
	if env.Data.TradeTime > 0 {
		ts = time.UnixMilli(env.Data.TradeTime)
	}
	return domain.PriceTick{Symbol: symbol, Price: px, Timestamp: ts}, true
}
