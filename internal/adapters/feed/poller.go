package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"golang.org/x/time/rate"
)

const (
	defaultRESTBase = "https://api.binance.com"

	// /api/v3/ticker/price pesa 4 por request con varios símbolos; 6000/min de
	// peso → nos quedamos muy por debajo.
	tickerRatePerSec = 5

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// TickerPrice is one entry of the REST ticker response.
type TickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Poller implementa ports.PriceFeed consultando el ticker REST a intervalos.
// Un fallo de red no cierra el canal: se registra y se reintenta en el
// siguiente intervalo, y las posiciones conservan su último precio.
type Poller struct {
	http     *http.Client
	base     string
	interval time.Duration
	limiter  *rate.Limiter
	retry    time.Duration
}

// NewPoller crea un poller REST. base vacío usa producción.
func NewPoller(base string, interval time.Duration) *Poller {
	if base == "" {
		base = defaultRESTBase
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		http:     &http.Client{Timeout: 10 * time.Second},
		base:     strings.TrimRight(base, "/"),
		interval: interval,
		limiter:  rate.NewLimiter(tickerRatePerSec, 2),
		retry:    baseRetryWait,
	}
}

// Subscribe arranca el polling para los símbolos dados.
func (p *Poller) Subscribe(ctx context.Context, symbols []string) (<-chan domain.PriceTick, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("feed.Poller.Subscribe: no symbols")
	}
	idx := newSymbolIndex(symbols)
	out := make(chan domain.PriceTick, len(symbols)*4)

	go func() {
		defer close(out)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			if err := p.poll(ctx, idx, out); err != nil && ctx.Err() == nil {
				slog.Warn("feed: ticker poll failed, holding last prices", "err", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

func (p *Poller) poll(ctx context.Context, idx symbolIndex, out chan<- domain.PriceTick) error {
	prices, err := p.FetchPrices(ctx, idx.exchangeSymbols())
	if err != nil {
		return err
	}
	now := time.Now()
	for _, tp := range prices {
		symbol, ok := idx.lookup(tp.Symbol)
		if !ok {
			continue
		}
		px, err := strconv.ParseFloat(tp.Price, 64)
		if err != nil || px <= 0 {
			slog.Debug("feed: invalid ticker price", "symbol", tp.Symbol, "price", tp.Price)
			continue
		}
		select {
		case out <- domain.PriceTick{Symbol: symbol, Price: px, Timestamp: now}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// FetchPrices consulta el último precio de los símbolos (formato exchange).
func (p *Poller) FetchPrices(ctx context.Context, exchangeSymbols []string) ([]TickerPrice, error) {
	syms := append([]string(nil), exchangeSymbols...)
	sort.Strings(syms)
	b, err := json.Marshal(syms)
	if err != nil {
		return nil, fmt.Errorf("feed.FetchPrices: encode symbols: %w", err)
	}
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbols=%s", p.base, url.QueryEscape(string(b)))

	var out []TickerPrice
	if err := p.get(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("feed.FetchPrices: %w", err)
	}
	return out, nil
}

// get hace un GET con rate limiting y retries.
func (p *Poller) get(ctx context.Context, u string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := p.http.Do(req)
		if err != nil {
			if attempt == maxRetries || ctx.Err() != nil {
				return fmt.Errorf("request failed after %d retries: %w", attempt, err)
			}
			p.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			slog.Warn("feed: ticker request throttled or failed", "status", resp.StatusCode, "attempt", attempt+1)
			p.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (p *Poller) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * p.retry
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
