package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/autopilot/internal/application/engine"
	"github.com/alejandrodnm/autopilot/internal/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del autopilot.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Exit    ExitConfig    `yaml:"exit"`
	Feed    FeedConfig    `yaml:"feed"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig controla admisión, sizing y circuit breakers.
type EngineConfig struct {
	InitialBalance      float64  `yaml:"initial_balance"`
	RiskFraction        float64  `yaml:"risk_fraction"`         // riesgo al stop, máx 3%
	FallbackFraction    float64  `yaml:"fallback_fraction"`     // tamaño plano sin stop
	MaxAssetFraction    float64  `yaml:"max_asset_fraction"`    // cap por posición
	Leverage            float64  `yaml:"leverage"`              // informativo
	MinConfidence       float64  `yaml:"min_confidence"`        // 0–100
	LongConfidenceBonus float64  `yaml:"long_confidence_bonus"` // puntos extra para LONG
	AllowedDirections   []string `yaml:"allowed_directions"`
	MaxConcurrent       int      `yaml:"max_concurrent"`
	MaxPerSymbol        int      `yaml:"max_per_symbol"`
	MaxExposureFraction float64  `yaml:"max_exposure_fraction"`
	CooldownMinutes     *float64 `yaml:"cooldown_minutes"` // 0 desactiva; ausente = default
	CooldownFloorMin    float64  `yaml:"cooldown_floor_minutes"`
	LossStreakThreshold int      `yaml:"loss_streak_threshold"`
	LossStreakWindow    int      `yaml:"loss_streak_window"` // 0 = todo el historial
	MaxDailyLossPct     float64  `yaml:"max_daily_loss_pct"` // 0 desactiva el breaker
	StartDisabled       bool     `yaml:"start_disabled"`
	TickBuffer          int      `yaml:"tick_buffer"`
	HistorySeed         int      `yaml:"history_seed"` // trades cargados del ledger al arrancar

	// BalanceFromEnv es true cuando AUTOPILOT_BALANCE fija el balance; en ese
	// caso no se retoma el último equity del ledger.
	BalanceFromEnv bool `yaml:"-"`
}

// ExitConfig controla las reglas de salida por tick.
type ExitConfig struct {
	MinHoldSeconds          *int    `yaml:"min_hold_seconds"` // 0 desactiva; ausente = default
	TrailingStopPct         float64 `yaml:"trailing_stop_pct"`
	MaxDurationMinutes      float64 `yaml:"max_duration_minutes"`
	AutoCloseMinHoldSeconds *int    `yaml:"auto_close_min_hold_seconds"`
	AutoTakeProfitPct       float64 `yaml:"auto_take_profit_pct"`
	AutoStopLossPct         float64 `yaml:"auto_stop_loss_pct"`
}

// FeedConfig elige la fuente de precios.
type FeedConfig struct {
	Source          string   `yaml:"source"` // stream | poll
	Symbols         []string `yaml:"symbols"`
	StreamBase      string   `yaml:"stream_base"`
	RESTBase        string   `yaml:"rest_base"`
	PollIntervalSec float64  `yaml:"poll_interval_seconds"`
	Buffer          int      `yaml:"buffer"`
}

// HTTPConfig controla la API de control y señales.
type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	SignalBuffer int    `yaml:"signal_buffer"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse interpreta YAML ya leído, aplica overrides de entorno y defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	setDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToEngineConfig convierte la sección engine/exit al tipo del engine.
func (c *Config) ToEngineConfig() (engine.Config, error) {
	dirs := make([]domain.Direction, 0, len(c.Engine.AllowedDirections))
	for _, s := range c.Engine.AllowedDirections {
		d, err := domain.ParseDirection(s)
		if err != nil {
			return engine.Config{}, fmt.Errorf("config.ToEngineConfig: allowed_directions: %w", err)
		}
		dirs = append(dirs, d)
	}

	e := c.Engine
	x := c.Exit
	return engine.Config{
		InitialBalance:      e.InitialBalance,
		RiskFraction:        e.RiskFraction,
		FallbackFraction:    e.FallbackFraction,
		MaxAssetFraction:    e.MaxAssetFraction,
		Leverage:            e.Leverage,
		MinConfidence:       e.MinConfidence,
		LongConfidenceBonus: e.LongConfidenceBonus,
		AllowedDirections:   dirs,
		MaxConcurrent:       e.MaxConcurrent,
		MaxPerSymbol:        e.MaxPerSymbol,
		MaxExposureFraction: e.MaxExposureFraction,
		Cooldown:            minutes(*e.CooldownMinutes),
		CooldownFloor:       minutes(e.CooldownFloorMin),
		LossStreakThreshold: e.LossStreakThreshold,
		LossStreakWindow:    e.LossStreakWindow,
		MaxDailyLossPct:     e.MaxDailyLossPct,
		Exit: domain.ExitRules{
			MinHold:           seconds(*x.MinHoldSeconds),
			TrailingStopPct:   x.TrailingStopPct,
			MaxDuration:       minutes(x.MaxDurationMinutes),
			AutoCloseMinHold:  seconds(*x.AutoCloseMinHoldSeconds),
			AutoTakeProfitPct: x.AutoTakeProfitPct,
			AutoStopLossPct:   x.AutoStopLossPct,
		},
		TickBuffer: e.TickBuffer,
	}, nil
}

// PollInterval devuelve el intervalo del poller REST como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Feed.PollIntervalSec * float64(time.Second))
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("AUTOPILOT_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("AUTOPILOT_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("AUTOPILOT_SYMBOLS"); v != "" {
		cfg.Feed.Symbols = splitList(v)
	}
	if v := os.Getenv("AUTOPILOT_BALANCE"); v != "" {
		b, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: AUTOPILOT_BALANCE %q: %w", v, err)
		}
		cfg.Engine.InitialBalance = b
		cfg.Engine.BalanceFromEnv = true
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Los defaults de riesgo viven en engine.DefaultConfig; aquí sólo se rellenan
// los que el YAML expresa en otras unidades.
func setDefaults(cfg *Config) {
	d := engine.DefaultConfig()
	if cfg.Engine.InitialBalance <= 0 {
		cfg.Engine.InitialBalance = d.InitialBalance
	}
	if cfg.Engine.RiskFraction <= 0 {
		cfg.Engine.RiskFraction = d.RiskFraction
	}
	if cfg.Engine.FallbackFraction <= 0 {
		cfg.Engine.FallbackFraction = d.FallbackFraction
	}
	if cfg.Engine.MaxAssetFraction <= 0 {
		cfg.Engine.MaxAssetFraction = d.MaxAssetFraction
	}
	if cfg.Engine.MinConfidence <= 0 {
		cfg.Engine.MinConfidence = d.MinConfidence
	}
	if len(cfg.Engine.AllowedDirections) == 0 {
		cfg.Engine.AllowedDirections = []string{"LONG", "SHORT"}
	}
	// cooldown y min-hold aceptan 0 explícito; sólo se rellenan si faltan
	if cfg.Engine.CooldownMinutes == nil || *cfg.Engine.CooldownMinutes < 0 {
		cfg.Engine.CooldownMinutes = ptr(d.Cooldown.Minutes())
	}
	if cfg.Engine.CooldownFloorMin <= 0 {
		cfg.Engine.CooldownFloorMin = d.CooldownFloor.Minutes()
	}
	if cfg.Engine.HistorySeed <= 0 {
		cfg.Engine.HistorySeed = 50
	}
	if cfg.Exit.MinHoldSeconds == nil || *cfg.Exit.MinHoldSeconds < 0 {
		cfg.Exit.MinHoldSeconds = ptr(int(d.Exit.MinHold.Seconds()))
	}
	if cfg.Exit.AutoCloseMinHoldSeconds == nil || *cfg.Exit.AutoCloseMinHoldSeconds < 0 {
		cfg.Exit.AutoCloseMinHoldSeconds = ptr(int(d.Exit.AutoCloseMinHold.Seconds()))
	}
	if cfg.Feed.Source == "" {
		cfg.Feed.Source = "stream"
	}
	if len(cfg.Feed.Symbols) == 0 {
		cfg.Feed.Symbols = []string{"BTC-USDT", "ETH-USDT"}
	}
	if cfg.Feed.PollIntervalSec <= 0 {
		cfg.Feed.PollIntervalSec = 2
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = "127.0.0.1:8080"
	}
	if cfg.HTTP.SignalBuffer <= 0 {
		cfg.HTTP.SignalBuffer = 64
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "autopilot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	switch c.Feed.Source {
	case "stream", "poll", "none":
	default:
		return fmt.Errorf("config: feed.source %q (want stream|poll|none)", c.Feed.Source)
	}
	if c.Engine.RiskFraction > domain.MaxRiskFraction {
		return fmt.Errorf("config: engine.risk_fraction %.4f above max %.2f", c.Engine.RiskFraction, domain.MaxRiskFraction)
	}
	if c.Engine.MaxExposureFraction > 1 {
		return fmt.Errorf("config: engine.max_exposure_fraction %.2f above 1", c.Engine.MaxExposureFraction)
	}
	if c.Engine.MaxDailyLossPct < 0 || c.Engine.MaxDailyLossPct >= 100 {
		return fmt.Errorf("config: engine.max_daily_loss_pct %.2f outside [0,100)", c.Engine.MaxDailyLossPct)
	}
	return nil
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

func seconds(s int) time.Duration {
	return time.Duration(s) * time.Second
}

func ptr[T any](v T) *T { return &v }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
