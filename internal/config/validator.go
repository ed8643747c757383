package config

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly/rule"
	"github.com/gyaneshwarpardhi/safewatch/internal/escalation"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// Validate checks the config for:
//   - Required and known-valued fields
//   - Malformed zones and custom rules that do not compile
//   - Escalation delays that are not ascending
//   - A trigger rate limit looser than the default
func Validate(cfg *Config) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if cfg.Version == "" {
		add("version is required")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug|info|warn|error", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "console" {
		add("log.format %q is not one of json|console", cfg.Log.Format)
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Storage.DSN == "" {
			add("storage.dsn is required for the postgres driver")
		}
	default:
		add("storage.driver %q is not one of memory|postgres", cfg.Storage.Driver)
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		add("redis.addr is required when redis is enabled")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		add("nats.url is required when nats is enabled")
	}
	if cfg.Identity.JWTSecret == "" {
		add("identity.jwt_secret is required (or set %s)", EnvJWTSecret)
	}

	validateThresholds(cfg.Detectors, add)

	ids := make(map[string]int)
	for i, def := range cfg.Rules {
		if prev, ok := ids[def.ID]; ok && def.ID != "" {
			add("duplicate rule id %q (rules[%d] and rules[%d])", def.ID, prev, i)
		}
		ids[def.ID] = i
		if _, err := rule.Compile(def); err != nil {
			add("rules[%d]: %v", i, err)
		}
	}

	zoneIDs := make(map[string]int)
	for i, z := range cfg.Zones {
		if prev, ok := zoneIDs[z.ID]; ok && z.ID != "" {
			add("duplicate zone id %q (zones[%d] and zones[%d])", z.ID, prev, i)
		}
		zoneIDs[z.ID] = i
		if err := z.Validate(); err != nil {
			add("zones[%d]: %v", i, err)
		}
	}

	if err := cfg.EscalationPolicy().Validate(); err != nil {
		add("escalation: %v", err)
	}
	if cfg.Escalation.SweepInterval < 0 {
		add("escalation.sweep_interval must be positive")
	}
	if cfg.RateLimit.Max < 1 || cfg.RateLimit.Max > safety.DefaultRateLimit.Max {
		add("rate_limit.max must be between 1 and %d", safety.DefaultRateLimit.Max)
	}
	if cfg.RateLimit.Window < safety.DefaultRateLimit.Window {
		add("rate_limit.window must be at least %s", safety.DefaultRateLimit.Window)
	}
	if cfg.Engine.Workers < 1 || cfg.Engine.QueueDepth < 1 {
		add("engine.workers and engine.queue_depth must be >= 1")
	}
	if cfg.Notify.Workers < 1 || cfg.Notify.QueueDepth < 1 {
		add("notify.workers and notify.queue_depth must be >= 1")
	}
	if _, err := cfg.Server.TrustedProxyPrefixes(); err != nil {
		add("server.trusted_proxies: %v", err)
	}
	for target := range cfg.Notify.Webhooks {
		switch safety.Target(target) {
		case safety.TargetFamily, safety.TargetPolice, safety.TargetEmergencyServices, safety.TargetEmbassy:
		default:
			add("notify.webhooks: unknown target %q", target)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateThresholds(th anomaly.Thresholds, add func(string, ...any)) {
	if th.UnusualHourStart < 0 || th.UnusualHourStart > 23 || th.UnusualHourEnd < 0 || th.UnusualHourEnd > 24 {
		add("detectors: unusual hour window %d-%d out of range", th.UnusualHourStart, th.UnusualHourEnd)
	}
	if th.BatteryPercent > 100 {
		add("detectors.battery_percent must be <= 100")
	}
	for mode, l := range th.Speed {
		if l.MaxKmh <= 0 || l.CriticalKmh < l.MaxKmh {
			add("detectors.speed.%s: need 0 < max_kmh <= critical_kmh", mode)
		}
	}
}

// EscalationPolicy builds the scheduler policy from the escalation section.
func (c *Config) EscalationPolicy() escalation.Policy {
	p := escalation.DefaultPolicy()
	if c.Escalation.AutoAdvance != nil {
		p.AutoAdvance = *c.Escalation.AutoAdvance
	}
	if c.Escalation.StopOnAcknowledge != nil {
		p.StopOnAcknowledge = *c.Escalation.StopOnAcknowledge
	}
	if d := c.Escalation.Delays.Police; d != 0 {
		p.Delays[1] = d
	}
	if d := c.Escalation.Delays.EmergencyServices; d != 0 {
		p.Delays[2] = d
	}
	if d := c.Escalation.Delays.Embassy; d != 0 {
		p.Delays[3] = d
	}
	return p
}

// SOSRateLimit returns the trigger admission limit.
func (c *Config) SOSRateLimit() safety.RateLimit {
	return safety.RateLimit{Max: c.RateLimit.Max, Window: c.RateLimit.Window}
}

// TrustedProxyPrefixes parses server.trusted_proxies. A bare address is
// taken as a single host prefix.
func (c ServerConf) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(raw); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("%q is neither a CIDR nor an address", raw)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
