// Package metrics exposes engine telemetry as Prometheus metrics.
//
// Events arrive through the Notifier methods; balance and position gauges are
// read from a status provider on every scrape, so they never drift from the
// engine's own view.
package metrics

import (
	"context"
	"net/http"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autopilot"

// StatusFunc returns the current engine status.
type StatusFunc func() domain.Status

// Prometheus implements ports.Notifier and owns its own registry.
type Prometheus struct {
	registry *prometheus.Registry

	opened   *prometheus.CounterVec
	closed   *prometheus.CounterVec
	rejected *prometheus.CounterVec
	pnl      *prometheus.HistogramVec
	halts    prometheus.Counter
	ticks    *prometheus.CounterVec
}

// NewPrometheus registers the event counters and the status gauges.
func NewPrometheus(status StatusFunc) *Prometheus {
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		registry: reg,
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Positions opened, by symbol and direction",
		}, []string{"symbol", "direction"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Positions closed, by close reason",
		}, []string{"reason"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_rejected_total",
			Help:      "Signals that did not open a position, by reject reason",
		}, []string{"reason"}),
		pnl: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trade_pnl_percent",
			Help:      "Realized P&L percent per closed trade",
			Buckets:   []float64{-10, -5, -3, -2, -1, 0, 1, 2, 3, 5, 10},
		}, []string{"symbol"}),
		halts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_halts_total",
			Help:      "Times the drawdown circuit breaker halted the engine",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_ticks_total",
			Help:      "Price ticks received from the feed",
		}, []string{"symbol"}),
	}
	reg.MustRegister(m.opened, m.closed, m.rejected, m.pnl, m.halts, m.ticks)

	if status != nil {
		gauge := func(name, help string, f func(domain.Status) float64) prometheus.GaugeFunc {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      name,
				Help:      help,
			}, func() float64 { return f(status()) })
		}
		reg.MustRegister(
			gauge("balance", "Free balance in quote currency", func(s domain.Status) float64 { return s.Balance }),
			gauge("equity", "Free balance plus notional locked in positions", func(s domain.Status) float64 { return s.Equity }),
			gauge("drawdown_percent", "Equity change relative to the initial balance", func(s domain.Status) float64 { return s.DrawdownPct }),
			gauge("open_positions", "Open positions", func(s domain.Status) float64 { return float64(s.OpenPositions) }),
			gauge("loss_streak", "Consecutive losing trades", func(s domain.Status) float64 { return float64(s.LossStreak) }),
			gauge("enabled", "1 when the engine accepts signals", func(s domain.Status) float64 {
				if s.Enabled {
					return 1
				}
				return 0
			}),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Prometheus) Registry() *prometheus.Registry { return m.registry }

func (m *Prometheus) Opened(_ context.Context, ev domain.OpenedEvent) {
	m.opened.WithLabelValues(ev.Symbol, string(ev.Direction)).Inc()
}

func (m *Prometheus) Closed(_ context.Context, ev domain.ClosedEvent) {
	m.closed.WithLabelValues(string(ev.Reason)).Inc()
	m.pnl.WithLabelValues(ev.Symbol).Observe(ev.PnLPercent)
}

func (m *Prometheus) Rejected(_ context.Context, r domain.Rejection) {
	m.rejected.WithLabelValues(string(r.Reason)).Inc()
}

func (m *Prometheus) Halted(_ context.Context, _ domain.Status) {
	m.halts.Inc()
}

// Tap counts ticks flowing from in and forwards them unchanged. The returned
// channel closes when in closes or ctx is done.
func (m *Prometheus) Tap(ctx context.Context, in <-chan domain.PriceTick) <-chan domain.PriceTick {
	out := make(chan domain.PriceTick, cap(in))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-in:
				if !ok {
					return
				}
				m.ticks.WithLabelValues(t.Symbol).Inc()
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
