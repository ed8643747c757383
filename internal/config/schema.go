package config

import (
	"time"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly/rule"
	"github.com/gyaneshwarpardhi/safewatch/internal/geo"
)

// Config is the top-level YAML structure.
type Config struct {
	Version    string             `yaml:"version"`
	Server     ServerConf         `yaml:"server"`
	Log        LogConf            `yaml:"log"`
	Storage    StorageConf        `yaml:"storage"`
	Redis      RedisConf          `yaml:"redis"`
	NATS       NATSConf           `yaml:"nats"`
	Identity   IdentityConf       `yaml:"identity"`
	Detectors  anomaly.Thresholds `yaml:"detectors"`
	Rules      []rule.Def         `yaml:"rules"`
	Escalation EscalationConf     `yaml:"escalation"`
	RateLimit  RateLimitConf      `yaml:"rate_limit"`
	Engine     EngineConf         `yaml:"engine"`
	Zones      []geo.Zone         `yaml:"zones"`
	Notify     NotifyConf         `yaml:"notify"`
	Evidence   EvidenceConf       `yaml:"evidence"`
}

// ServerConf configures the HTTP listener. APIRate/APIBurst throttle each
// client address. Forwarding headers are only honored for peers inside
// TrustedProxies (CIDRs or bare addresses).
type ServerConf struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	APIRate         float64       `yaml:"api_rate"`
	APIBurst        int           `yaml:"api_burst"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
}

type LogConf struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}

// StorageConf selects the Store implementation.
type StorageConf struct {
	Driver       string `yaml:"driver"` // memory | postgres
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConf struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type NATSConf struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type IdentityConf struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// EscalationConf controls server side auto-advance. Nil booleans take
// their defaults (both true).
type EscalationConf struct {
	AutoAdvance       *bool         `yaml:"auto_advance"`
	StopOnAcknowledge *bool         `yaml:"stop_on_acknowledge"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	Delays            DelayConf     `yaml:"delays"`
}

// DelayConf is the offset from event creation for each ladder level above 0.
type DelayConf struct {
	Police            time.Duration `yaml:"police"`
	EmergencyServices time.Duration `yaml:"emergency_services"`
	Embassy           time.Duration `yaml:"embassy"`
}

// RateLimitConf may only tighten the default admission limit of 3
// triggers per rolling hour.
type RateLimitConf struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// EngineConf holds tunable concurrency settings for the sample monitor.
type EngineConf struct {
	Workers               int           `yaml:"workers"`
	QueueDepth            int           `yaml:"queue_depth"`
	SampleTimeout         time.Duration `yaml:"sample_timeout"`
	ProximityBufferMeters float64       `yaml:"proximity_buffer_meters"`
	AutoSOS               bool          `yaml:"auto_sos"`
}

// NotifyConf maps escalation targets to webhook URLs. Targets without a
// URL are logged only. Deliveries run on Workers goroutines behind a queue
// of QueueDepth records.
type NotifyConf struct {
	Webhooks   map[string]string `yaml:"webhooks"`
	Token      string            `yaml:"token"`
	Timeout    time.Duration     `yaml:"timeout"`
	Retries    int               `yaml:"retries"`
	Workers    int               `yaml:"workers"`
	QueueDepth int               `yaml:"queue_depth"`
}

type EvidenceConf struct {
	BlobDir string `yaml:"blob_dir"` // empty keeps blobs in memory
}
