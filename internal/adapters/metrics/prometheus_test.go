package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_CountsEvents(t *testing.T) {
	m := NewPrometheus(nil)
	ctx := context.Background()

	m.Opened(ctx, domain.OpenedEvent{Symbol: "BTC-USDT", Direction: domain.Long})
	m.Opened(ctx, domain.OpenedEvent{Symbol: "BTC-USDT", Direction: domain.Long})
	m.Closed(ctx, domain.ClosedEvent{Symbol: "BTC-USDT", Reason: domain.ReasonStopLoss, PnLPercent: -2})
	m.Rejected(ctx, domain.Rejection{Symbol: "ETH-USDT", Reason: domain.RejectCooldownActive})
	m.Halted(ctx, domain.Status{})

	assert.InDelta(t, 2, testutil.ToFloat64(m.opened.WithLabelValues("BTC-USDT", "LONG")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.closed.WithLabelValues("stop_loss")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.rejected.WithLabelValues("cooldown active")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.halts), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "autopilot_trade_pnl_percent"))
}

func TestPrometheus_HandlerExposesGauges(t *testing.T) {
	m := NewPrometheus(func() domain.Status {
		return domain.Status{Enabled: true, Balance: 7500, Equity: 9800, DrawdownPct: -2, OpenPositions: 1}
	})
	m.Opened(context.Background(), domain.OpenedEvent{Symbol: "BTC-USDT", Direction: domain.Short})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, "autopilot_balance 7500")
	assert.Contains(t, out, "autopilot_equity 9800")
	assert.Contains(t, out, "autopilot_drawdown_percent -2")
	assert.Contains(t, out, "autopilot_open_positions 1")
	assert.Contains(t, out, "autopilot_enabled 1")
	assert.Contains(t, out, `autopilot_positions_opened_total{direction="SHORT",symbol="BTC-USDT"} 1`)
}

func TestPrometheus_TapForwardsAndCounts(t *testing.T) {
	m := NewPrometheus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan domain.PriceTick, 2)
	out := m.Tap(ctx, in)

	in <- domain.PriceTick{Symbol: "BTC-USDT", Price: 50000}
	in <- domain.PriceTick{Symbol: "BTC-USDT", Price: 50010}
	close(in)

	var got []domain.PriceTick
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case tk, ok := <-out:
			if !ok {
				done = true
				continue
			}
			got = append(got, tk)
		case <-timeout:
			t.Fatal("tap did not close")
		}
	}
	require.Len(t, got, 2)
	assert.InDelta(t, 50010, got[1].Price, 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ticks.WithLabelValues("BTC-USDT")), 1e-9)
}
