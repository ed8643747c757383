package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Environment overrides for secrets and endpoints.
const (
	EnvDBDSN     = "SAFEWATCH_DB_DSN"
	EnvRedisAddr = "SAFEWATCH_REDIS_ADDR"
	EnvNATSURL   = "SAFEWATCH_NATS_URL"
	EnvJWTSecret = "SAFEWATCH_JWT_SECRET"
	EnvLogLevel  = "SAFEWATCH_LOG_LEVEL"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
	logger   *zap.Logger
}

// NewLoader creates a Loader and performs the initial load. The initial
// config must validate.
func NewLoader(path string, logger *zap.Logger) (*Loader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{path: path, logger: logger}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// SetLogger replaces the logger, typically once the configured one exists.
func (l *Loader) SetLogger(logger *zap.Logger) {
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// Config returns the current (latest) configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file
// changes. The parent directory is watched so editors that replace the
// file by rename are seen too. Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	target := filepath.Clean(l.path)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.log().Warn("config reload rejected, keeping previous config",
							zap.String("path", l.path), zap.Error(err))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.log().Warn("config watcher error", zap.Error(err))
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// Reload forces an immediate re-read of the config file.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
	l.log().Info("config reloaded", zap.String("path", l.path))
	return cfg, nil
}

func (l *Loader) log() *zap.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

func (l *Loader) load() (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return Parse(data)
}

// Parse decodes data, applies env overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDBDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		cfg.Identity.JWTSecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 20 * time.Second
	}
	if cfg.Server.APIRate == 0 {
		cfg.Server.APIRate = 20
	}
	if cfg.Server.APIBurst == 0 {
		cfg.Server.APIBurst = 40
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 20
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = 5
	}
	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = "safewatch:sos:"
	}
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "safewatch.sos"
	}
	if cfg.Identity.Issuer == "" {
		cfg.Identity.Issuer = "safewatch"
	}
	cfg.Detectors = cfg.Detectors.WithDefaults()

	t := true
	if cfg.Escalation.AutoAdvance == nil {
		cfg.Escalation.AutoAdvance = &t
	}
	if cfg.Escalation.StopOnAcknowledge == nil {
		cfg.Escalation.StopOnAcknowledge = &t
	}
	if cfg.Escalation.SweepInterval == 0 {
		cfg.Escalation.SweepInterval = 15 * time.Second
	}
	if cfg.Escalation.Delays.Police == 0 {
		cfg.Escalation.Delays.Police = 2 * time.Minute
	}
	if cfg.Escalation.Delays.EmergencyServices == 0 {
		cfg.Escalation.Delays.EmergencyServices = 5 * time.Minute
	}
	if cfg.Escalation.Delays.Embassy == 0 {
		cfg.Escalation.Delays.Embassy = 10 * time.Minute
	}
	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = 3
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Hour
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 16
	}
	if cfg.Engine.QueueDepth == 0 {
		cfg.Engine.QueueDepth = 10000
	}
	if cfg.Engine.SampleTimeout == 0 {
		cfg.Engine.SampleTimeout = 5 * time.Second
	}
	if cfg.Engine.ProximityBufferMeters == 0 {
		cfg.Engine.ProximityBufferMeters = 500
	}
	if cfg.Notify.Timeout == 0 {
		cfg.Notify.Timeout = 5 * time.Second
	}
	if cfg.Notify.Workers == 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Notify.QueueDepth == 0 {
		cfg.Notify.QueueDepth = 1024
	}
}
