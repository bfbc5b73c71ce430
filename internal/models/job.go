package models

// Config represents the parsed tunectl.yaml configuration.
type Config struct {
	Name           *string          `yaml:"name,omitempty" json:"name,omitempty"`
	LogLevel       string           `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	ValidationPath string           `yaml:"validation_path,omitempty" json:"validation_path,omitempty"`
	Engine         EngineConfig     `yaml:"engine" json:"engine"`
	Tuning         TuningConfig     `yaml:"tuning" json:"tuning"`
	Cache          CacheConfig      `yaml:"cache" json:"cache"`
	History        HistoryConfig    `yaml:"history" json:"history"`
	Server         ServerConfig     `yaml:"server" json:"server"`
	Events         EventsConfig     `yaml:"events,omitempty" json:"events,omitempty"`
	Validation     ValidationConfig `yaml:"-" json:"validation"`
}

type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" json:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms" json:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier" json:"multiplier"`
}

type EngineConfig struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
}

type TuningConfig struct {
	MinTrials       int         `yaml:"min_trials" json:"min_trials"`
	MaxTrials       int         `yaml:"max_trials" json:"max_trials"`
	PollIntervalMs  int         `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	MaxPollAttempts int         `yaml:"max_poll_attempts" json:"max_poll_attempts"`
	Retry           RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

type CacheConfig struct {
	PollIntervalMs int         `yaml:"poll_interval_ms" json:"poll_interval_ms"`
	Retry          RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

type HistoryConfig struct {
	LocalCapacity int `yaml:"local_capacity" json:"local_capacity"`
	RemoteLimit   int `yaml:"remote_limit" json:"remote_limit"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// EventsConfig enables the kafka publisher when Brokers is non-empty.
type EventsConfig struct {
	Brokers []string `yaml:"brokers,omitempty" json:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty" json:"topic,omitempty"`
}

// ValidationConfig represents the parsed validation.toml heuristics.
type ValidationConfig struct {
	OverfitRatio         float64 `toml:"overfit_ratio" json:"overfit_ratio"`
	RejectZeroVolatility bool    `toml:"reject_zero_volatility" json:"reject_zero_volatility"`
	RejectZeroSellTrades bool    `toml:"reject_zero_sell_trades" json:"reject_zero_sell_trades"`
	RejectZeroCosts      bool    `toml:"reject_zero_costs" json:"reject_zero_costs"`
	TrustEngineHealth    bool    `toml:"trust_engine_health" json:"trust_engine_health"`
}
