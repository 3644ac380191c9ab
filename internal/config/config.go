package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avcs-dna/sentinel/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort    = 8080
	DefaultWorkers     = 4
	DefaultQueueDepth  = 4
	DefaultTick        = 1 * time.Second
	DefaultWindow      = 2 * time.Second
	DefaultEvalTimeout = 250 * time.Millisecond
	DefaultRetention   = 256
	DefaultBroadcast   = 5 * time.Second

	DefaultTrees      = 150
	DefaultSampleSize = 128
	DefaultPopulation = 512
	DefaultSeed       = 42
	DefaultThreshold  = 0.62

	DefaultTrendLookback    = 12
	DefaultFailureThreshold = 90.0

	DefaultHysteresisWindows  = 3
	DefaultStaleWindowLimit   = 3
	DefaultCommandMinInterval = 5 * time.Second
)

// Config is the top-level configuration parsed from config.yaml.
type Config struct {
	Engine      EngineConfig      `yaml:"engine"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Risk        RiskConfig        `yaml:"risk"`
	Control     ControlConfig     `yaml:"control"`
	Actuator    ActuatorConfig    `yaml:"actuator"`
	Auth        AuthConfig        `yaml:"auth"`
	Assets      []AssetConfig     `yaml:"assets"`
}

// EngineConfig holds coordinator-level settings.
type EngineConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// Workers is the fixed size of the evaluation worker pool.
	Workers int `yaml:"workers"`

	// QueueDepth bounds the per-asset backlog of closed-but-unevaluated
	// windows. When the queue is full, new windows are dropped with a
	// warning — never buffered without bound.
	QueueDepth int `yaml:"queue_depth"`

	// Tick is the interval between evaluation cycles.
	Tick time.Duration `yaml:"tick"`

	// EvalTimeout bounds one asset's evaluation. Exceeding it degrades the
	// asset to a conservative state; it never aborts the computation.
	EvalTimeout time.Duration `yaml:"eval_timeout"`

	// Retention is the number of risk records kept per asset.
	Retention int `yaml:"retention"`

	// Broadcast is the WebSocket fleet-snapshot broadcast interval.
	Broadcast time.Duration `yaml:"broadcast"`
}

// CalibrationConfig describes the frozen anomaly-model artifact. The model is
// never retrained at runtime: changing any of these values requires a config
// reload, which quiesces evaluation and swaps the whole model snapshot.
type CalibrationConfig struct {
	// Trees is the ensemble size of the isolation forest.
	Trees int `yaml:"trees"`

	// SampleSize is the per-tree subsample size (the trained population each
	// tree isolates against).
	SampleSize int `yaml:"sample_size"`

	// Population is the size of the calibration population drawn at build
	// time from Seed.
	Population int `yaml:"population"`

	// Seed makes the forest deterministic across restarts.
	Seed int64 `yaml:"seed"`

	// Threshold is the score above which a window is flagged anomalous.
	Threshold float64 `yaml:"threshold"`
}

// RiskConfig holds the weighted-sum parameters for the Risk Index and the
// RUL extrapolation target.
type RiskConfig struct {
	AnomalyWeight float64 `yaml:"anomaly_weight"`
	BreachWeight  float64 `yaml:"breach_weight"`
	TrendWeight   float64 `yaml:"trend_weight"`

	// TrendLookback is the number of recent windows the trend slope is
	// fitted over.
	TrendLookback int `yaml:"trend_lookback"`

	// FailureThreshold is the Risk Index the RUL extrapolation targets.
	FailureThreshold float64 `yaml:"failure_threshold"`
}

// ControlConfig holds the state machine thresholds and actuation limits.
type ControlConfig struct {
	// Enter thresholds: crossing them upgrades severity immediately.
	WarningEnter  float64 `yaml:"warning_enter"`
	CriticalEnter float64 `yaml:"critical_enter"`

	// StopCeiling forces the stopped state when crossed. Stopped is latched
	// until an explicit external reset.
	StopCeiling float64 `yaml:"stop_ceiling"`

	// Exit (re-entry) thresholds: a downgrade requires the Risk Index to
	// stay below the current state's exit threshold for HysteresisWindows
	// consecutive windows.
	WarningExit  float64 `yaml:"warning_exit"`
	CriticalExit float64 `yaml:"critical_exit"`

	HysteresisWindows int `yaml:"hysteresis_windows"`

	// StandbyBelow selects the standby damper force while healthy.
	StandbyBelow float64 `yaml:"standby_below"`

	// CommandMinInterval rate-limits commands to the same actuator set —
	// MR dampers need time to respond before the next setpoint.
	CommandMinInterval time.Duration `yaml:"command_min_interval"`

	// StaleWindowLimit is the number of consecutive windows a channel may be
	// absent before the asset degrades to a sensor-fault condition.
	StaleWindowLimit int `yaml:"stale_window_limit"`

	Forces ForceConfig `yaml:"forces"`
}

// ForceConfig maps lifecycle states to damper force setpoints in newtons.
// Defaults follow the LORD RD-8040 drive levels the dampers are sized for.
type ForceConfig struct {
	Standby  float64 `yaml:"standby"`
	Normal   float64 `yaml:"normal"`
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// ActuatorConfig selects how ControlCommands leave the engine.
type ActuatorConfig struct {
	// Mode is one of: log | http.
	Mode string `yaml:"mode"`

	// URL is the actuation collaborator endpoint, used when Mode == "http".
	URL string `yaml:"url"`

	// Timeout bounds one actuation request.
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	// Mode is one of: none | apikey.
	Mode string `yaml:"mode"`

	// Header carries the key, lowercase. Defaults to x-api-key.
	Header string `yaml:"header"`

	// Key is the shared secret compared against the header value.
	Key string `yaml:"key"`
}

// AssetConfig describes one monitored machine unit.
type AssetConfig struct {
	ID string `yaml:"id"`

	// Window is the evaluation window length. Validated > 0 at load time —
	// never re-checked at runtime.
	Window time.Duration `yaml:"window"`

	Channels []ChannelConfig `yaml:"channels"`

	// Dampers lists the asset's actuator identifiers.
	Dampers []string `yaml:"dampers"`
}

// ChannelConfig describes one sensor channel an asset owns.
type ChannelConfig struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"` // vibration | thermal | acoustic
	Unit string `yaml:"unit"`

	// Bands are the normal/warning/critical thresholds for raw readings.
	Bands BandConfig `yaml:"bands"`

	// Increments are the Risk Index contributions for breaching each band.
	Increments BandConfig `yaml:"increments"`

	// Baseline is the frozen standardization statistic for this channel's
	// features, supplied by the offline calibration. Derived from the normal
	// band when absent.
	Baseline BaselineConfig `yaml:"baseline"`
}

// BandConfig is a normal/warning/critical threshold triple.
type BandConfig struct {
	Normal   float64 `yaml:"normal"`
	Warning  float64 `yaml:"warning"`
	Critical float64 `yaml:"critical"`
}

// BaselineConfig is the per-channel mean/stddev frozen at calibration time.
type BaselineConfig struct {
	Mean   float64 `yaml:"mean"`
	Stddev float64 `yaml:"stddev"`
}

// Per-kind band and increment defaults, from the pump skid commissioning
// limits: vibration in mm/s, temperature in °C, acoustics in dB(A).
var kindDefaults = map[string]struct {
	bands      BandConfig
	increments BandConfig
}{
	types.KindVibration: {BandConfig{2.0, 4.0, 6.0}, BandConfig{20, 40, 60}},
	types.KindThermal:   {BandConfig{70, 85, 100}, BandConfig{15, 30, 50}},
	types.KindAcoustic:  {BandConfig{70, 85, 100}, BandConfig{10, 25, 40}},
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation. Any validation failure here is fatal to
// the engine — there is no runtime recovery from a bad schema.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values for everything
// that is not per-asset.
func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			HTTPPort:    DefaultHTTPPort,
			Workers:     DefaultWorkers,
			QueueDepth:  DefaultQueueDepth,
			Tick:        DefaultTick,
			EvalTimeout: DefaultEvalTimeout,
			Retention:   DefaultRetention,
			Broadcast:   DefaultBroadcast,
		},
		Calibration: CalibrationConfig{
			Trees:      DefaultTrees,
			SampleSize: DefaultSampleSize,
			Population: DefaultPopulation,
			Seed:       DefaultSeed,
			Threshold:  DefaultThreshold,
		},
		Risk: RiskConfig{
			AnomalyWeight:    0.5,
			BreachWeight:     0.35,
			TrendWeight:      0.15,
			TrendLookback:    DefaultTrendLookback,
			FailureThreshold: DefaultFailureThreshold,
		},
		Control: ControlConfig{
			WarningEnter:       40,
			CriticalEnter:      70,
			StopCeiling:        95,
			WarningExit:        30,
			CriticalExit:       60,
			HysteresisWindows:  DefaultHysteresisWindows,
			StandbyBelow:       20,
			CommandMinInterval: DefaultCommandMinInterval,
			StaleWindowLimit:   DefaultStaleWindowLimit,
			Forces:             ForceConfig{Standby: 500, Normal: 1000, Warning: 4000, Critical: 8000},
		},
		Actuator: ActuatorConfig{
			Mode:    "log",
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Mode:   "none",
			Header: "x-api-key",
		},
	}
}

// applyDefaults fills per-asset and per-channel fields that depend on other
// values and therefore cannot be pre-populated.
func applyDefaults(cfg *Config) {
	for i := range cfg.Assets {
		a := &cfg.Assets[i]
		if a.Window == 0 {
			a.Window = DefaultWindow
		}
		for j := range a.Channels {
			c := &a.Channels[j]
			if d, ok := kindDefaults[c.Kind]; ok {
				if c.Bands == (BandConfig{}) {
					c.Bands = d.bands
				}
				if c.Increments == (BandConfig{}) {
					c.Increments = d.increments
				}
			}
			// Offline calibration normally supplies the baseline. When it is
			// absent, derive a conservative one from the normal band so the
			// standardized features stay on a comparable scale.
			if c.Baseline == (BaselineConfig{}) {
				c.Baseline = BaselineConfig{
					Mean:   c.Bands.Normal * 0.5,
					Stddev: c.Bands.Normal * 0.25,
				}
			}
			if c.Baseline.Stddev <= 0 {
				c.Baseline.Stddev = 1
			}
		}
	}
}

// Validate checks structural constraints on the parsed configuration.
// Exported so the engine can re-validate a hot-reloaded config before
// quiescing for the swap.
func Validate(cfg *Config) error {
	e := cfg.Engine
	if e.HTTPPort <= 0 || e.HTTPPort > 65535 {
		return fmt.Errorf("engine.http_port %d is out of range [1, 65535]", e.HTTPPort)
	}
	if e.Workers <= 0 {
		return fmt.Errorf("engine.workers must be positive, got %d", e.Workers)
	}
	if e.QueueDepth <= 0 {
		return fmt.Errorf("engine.queue_depth must be positive, got %d", e.QueueDepth)
	}
	if e.Tick <= 0 || e.EvalTimeout <= 0 {
		return fmt.Errorf("engine.tick and engine.eval_timeout must be positive")
	}
	if e.Retention <= 0 {
		return fmt.Errorf("engine.retention must be positive, got %d", e.Retention)
	}

	c := cfg.Calibration
	if c.Trees <= 0 || c.SampleSize <= 1 || c.Population < c.SampleSize {
		return fmt.Errorf("calibration: need trees > 0, sample_size > 1, population >= sample_size")
	}
	if c.Threshold <= 0 || c.Threshold >= 1 {
		return fmt.Errorf("calibration.threshold %.2f is out of range (0, 1)", c.Threshold)
	}

	r := cfg.Risk
	if r.AnomalyWeight < 0 || r.BreachWeight < 0 || r.TrendWeight < 0 {
		return fmt.Errorf("risk weights must not be negative")
	}
	if r.AnomalyWeight+r.BreachWeight+r.TrendWeight == 0 {
		return fmt.Errorf("risk weights must not all be zero")
	}
	if r.TrendLookback < 2 {
		return fmt.Errorf("risk.trend_lookback must be >= 2, got %d", r.TrendLookback)
	}
	if r.FailureThreshold <= 0 || r.FailureThreshold > 100 {
		return fmt.Errorf("risk.failure_threshold %.1f is out of range (0, 100]", r.FailureThreshold)
	}

	ctl := cfg.Control
	if !(ctl.WarningExit < ctl.WarningEnter && ctl.WarningEnter <= ctl.CriticalExit &&
		ctl.CriticalExit < ctl.CriticalEnter && ctl.CriticalEnter < ctl.StopCeiling) {
		return fmt.Errorf("control thresholds must satisfy warning_exit < warning_enter <= critical_exit < critical_enter < stop_ceiling")
	}
	if ctl.HysteresisWindows <= 0 {
		return fmt.Errorf("control.hysteresis_windows must be positive, got %d", ctl.HysteresisWindows)
	}
	if ctl.CommandMinInterval <= 0 {
		return fmt.Errorf("control.command_min_interval must be positive")
	}
	if ctl.StaleWindowLimit <= 0 {
		return fmt.Errorf("control.stale_window_limit must be positive, got %d", ctl.StaleWindowLimit)
	}

	switch cfg.Actuator.Mode {
	case "log", "http":
	default:
		return fmt.Errorf("actuator.mode %q unknown: want log|http", cfg.Actuator.Mode)
	}
	if cfg.Actuator.Mode == "http" && cfg.Actuator.URL == "" {
		return fmt.Errorf("actuator.url is required when actuator.mode is http")
	}

	switch cfg.Auth.Mode {
	case "none", "apikey":
	default:
		return fmt.Errorf("auth.mode %q unknown: want none|apikey", cfg.Auth.Mode)
	}
	if cfg.Auth.Mode == "apikey" && cfg.Auth.Key == "" {
		return fmt.Errorf("auth.key is required when auth.mode is apikey")
	}

	if len(cfg.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	seenAssets := make(map[string]struct{}, len(cfg.Assets))
	for _, a := range cfg.Assets {
		if a.ID == "" {
			return fmt.Errorf("asset id must not be empty")
		}
		if _, dup := seenAssets[a.ID]; dup {
			return fmt.Errorf("duplicate asset id %q", a.ID)
		}
		seenAssets[a.ID] = struct{}{}
		if a.Window <= 0 {
			return fmt.Errorf("asset %q: window must be positive", a.ID)
		}
		if len(a.Channels) == 0 {
			return fmt.Errorf("asset %q: at least one channel is required", a.ID)
		}
		if len(a.Dampers) == 0 {
			return fmt.Errorf("asset %q: at least one damper actuator is required", a.ID)
		}
		seenChannels := make(map[string]struct{}, len(a.Channels))
		for _, ch := range a.Channels {
			if ch.ID == "" {
				return fmt.Errorf("asset %q: channel id must not be empty", a.ID)
			}
			if _, dup := seenChannels[ch.ID]; dup {
				return fmt.Errorf("asset %q: duplicate channel id %q", a.ID, ch.ID)
			}
			seenChannels[ch.ID] = struct{}{}
			switch ch.Kind {
			case types.KindVibration, types.KindThermal, types.KindAcoustic:
			default:
				return fmt.Errorf("asset %q channel %q: kind %q unknown: want vibration|thermal|acoustic", a.ID, ch.ID, ch.Kind)
			}
			if !(ch.Bands.Normal < ch.Bands.Warning && ch.Bands.Warning < ch.Bands.Critical) {
				return fmt.Errorf("asset %q channel %q: bands must be strictly increasing", a.ID, ch.ID)
			}
		}
	}
	return nil
}
