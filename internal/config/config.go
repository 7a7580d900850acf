package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meridianops/meridian-failover/internal/models"
)

// Config captures everything required to boot the failover engine.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Engine       EngineConfig       `yaml:"engine"`
	Services     []ServiceConfig    `yaml:"services"`
	Regions      []string           `yaml:"regions"`
	Groups       []GroupConfig      `yaml:"groups"`
	Dependencies []DependencyConfig `yaml:"dependencies"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Journal      JournalConfig      `yaml:"journal"`
	History      HistoryConfig      `yaml:"history"`
	Rules        RulesConfig        `yaml:"rules"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig controls the HTTP API listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// EngineConfig tunes the evaluation loop and its thresholds.
type EngineConfig struct {
	PollInterval                 time.Duration `yaml:"pollInterval"`
	Workers                      int           `yaml:"workers"`
	ProbeTimeout                 time.Duration `yaml:"probeTimeout"`
	WindowSize                   int           `yaml:"windowSize"`
	MinSamples                   int           `yaml:"minSamples"`
	HealthThreshold              float64       `yaml:"healthThreshold"`
	WarningThreshold             float64       `yaml:"warningThreshold"`
	ResponseTimeThreshold        time.Duration `yaml:"responseTimeThreshold"`
	ConsecutiveFailuresThreshold int           `yaml:"consecutiveFailuresThreshold"`
	CooldownCycles               int           `yaml:"cooldownCycles"`
	AnomalyPenaltyWeight         float64       `yaml:"anomalyPenaltyWeight"`
	CascadeDepth                 int           `yaml:"cascadeDepth"`
	AutoFailback                 bool          `yaml:"autoFailback"`
}

// ServiceConfig declares one monitored service and its share of the
// composite score. Weights across all services must sum to one.
type ServiceConfig struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// GroupConfig declares a traffic group. RegionEndpoints and ScalingTargets
// must cover the primary and every secondary region.
type GroupConfig struct {
	Name             string            `yaml:"name"`
	PrimaryRegion    string            `yaml:"primaryRegion"`
	SecondaryRegions []string          `yaml:"secondaryRegions"`
	DNSZone          string            `yaml:"dnsZone"`
	DNSRecord        string            `yaml:"dnsRecord"`
	CDNDistribution  string            `yaml:"cdnDistribution"`
	RegionEndpoints  map[string]string `yaml:"regionEndpoints"`
	ScalingTargets   map[string]string `yaml:"scalingTargets"`
	ScaleSurge       int               `yaml:"scaleSurge"`
}

// TrafficGroup converts the declaration into its domain form.
func (g GroupConfig) TrafficGroup() models.TrafficGroup {
	endpoints := make(map[string]string, len(g.RegionEndpoints))
	for region, endpoint := range g.RegionEndpoints {
		endpoints[region] = endpoint
	}
	targets := make(map[string]string, len(g.ScalingTargets))
	for region, target := range g.ScalingTargets {
		targets[region] = target
	}
	return models.TrafficGroup{
		Name:            g.Name,
		Primary:         g.PrimaryRegion,
		Secondaries:     append([]string(nil), g.SecondaryRegions...),
		DNSZone:         g.DNSZone,
		DNSRecord:       g.DNSRecord,
		CDNDistribution: g.CDNDistribution,
		RegionEndpoints: endpoints,
		ScalingTargets:  targets,
		ScaleSurge:      g.ScaleSurge,
	}
}

// DependencyConfig declares one weighted edge of the service dependency graph.
type DependencyConfig struct {
	Upstream   string  `yaml:"upstream"`
	Downstream string  `yaml:"downstream"`
	Weight     float64 `yaml:"weight"`
}

// ProvidersConfig groups integrations with the outside world.
type ProvidersConfig struct {
	Probe        ProbeConfig        `yaml:"probe"`
	ControlPlane ControlPlaneConfig `yaml:"controlPlane"`
	Alerts       AlertsConfig       `yaml:"alerts"`
}

// ProbeConfig configures the HTTP health prober. URLTemplate receives the
// service name and the region, in that order.
type ProbeConfig struct {
	URLTemplate     string        `yaml:"urlTemplate"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures int           `yaml:"breakerFailures"`
	BreakerCooldown time.Duration `yaml:"breakerCooldown"`
}

// ControlPlaneConfig configures access to the cloud control plane APIs.
type ControlPlaneConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	DNSPath     string        `yaml:"dnsPath"`
	CDNPath     string        `yaml:"cdnPath"`
	ScalingPath string        `yaml:"scalingPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AlertsConfig configures the operator alert webhook. An empty WebhookURL
// keeps alerts log-only.
type AlertsConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ExecutorConfig bounds remediation retries.
type ExecutorConfig struct {
	MaxRetries     int           `yaml:"maxRetries"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

// JournalConfig controls the decision journal that lets a restarted engine
// resume partially applied decisions. Backend is either "valkey" or "memory".
type JournalConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Backend      string        `yaml:"backend"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	ClaimTTL     time.Duration `yaml:"claimTTL"`
	RecordTTL    time.Duration `yaml:"recordTTL"`
}

// HistoryConfig bounds the in-memory transition history.
type HistoryConfig struct {
	MaxEvents int `yaml:"maxEvents"`
}

// RulesConfig controls rule-pack loading for the advisor.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file, applies environment overrides
// and validates the result. Configuration errors are fatal by contract, so
// callers should abort on any returned error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MERIDIAN_FAILOVER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Engine: EngineConfig{
			PollInterval:                 30 * time.Second,
			Workers:                      8,
			ProbeTimeout:                 5 * time.Second,
			WindowSize:                   20,
			MinSamples:                   5,
			HealthThreshold:              0.7,
			WarningThreshold:             0.85,
			ResponseTimeThreshold:        5 * time.Second,
			ConsecutiveFailuresThreshold: 3,
			CooldownCycles:               5,
			AnomalyPenaltyWeight:         0.2,
			CascadeDepth:                 3,
			AutoFailback:                 false,
		},
		Providers: ProvidersConfig{
			Probe: ProbeConfig{
				Timeout:         5 * time.Second,
				BreakerFailures: 5,
				BreakerCooldown: 30 * time.Second,
			},
			ControlPlane: ControlPlaneConfig{
				DNSPath:     "/api/v1/dns/records",
				CDNPath:     "/api/v1/cdn/origins",
				ScalingPath: "/api/v1/scaling/capacity",
				Timeout:     10 * time.Second,
			},
			Alerts: AlertsConfig{Timeout: 5 * time.Second},
		},
		Executor: ExecutorConfig{
			MaxRetries:     3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Journal: JournalConfig{
			Enabled:      false,
			Backend:      "memory",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			ClaimTTL:     time.Minute,
			RecordTTL:    24 * time.Hour,
		},
		History: HistoryConfig{MaxEvents: 1000},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MERIDIAN_FAILOVER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.PollInterval = d
		}
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Workers = n
		}
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_AUTO_FAILBACK"); v != "" {
		cfg.Engine.AutoFailback = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_PROBE_URL_TEMPLATE"); v != "" {
		cfg.Providers.Probe.URLTemplate = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_CONTROL_PLANE_URL"); v != "" {
		cfg.Providers.ControlPlane.BaseURL = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Providers.Alerts.WebhookURL = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_BACKEND"); v != "" {
		cfg.Journal.Backend = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_ADDR"); v != "" {
		cfg.Journal.Addr = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_USERNAME"); v != "" {
		cfg.Journal.Username = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_PASSWORD"); v != "" {
		cfg.Journal.Password = v
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Journal.DB = db
		}
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Journal.TLS = true
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Journal.DialTimeout = d
		}
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Journal.ReadTimeout = d
		}
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Journal.WriteTimeout = d
		}
	}
	if v := os.Getenv("MERIDIAN_FAILOVER_JOURNAL_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Journal.MaxRetries = retry
		}
	}
}

// Validate rejects configurations the engine cannot safely run with.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.MetricsAddress == "" {
		return fmt.Errorf("server.metricsAddress must not be empty")
	}
	if err := c.validateEngine(); err != nil {
		return err
	}

	services := make(map[string]bool, len(c.Services))
	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service must be declared")
	}
	weightSum := 0.0
	for i, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("services[%d].name must not be empty", i)
		}
		if services[svc.Name] {
			return fmt.Errorf("service %q declared twice", svc.Name)
		}
		services[svc.Name] = true
		if svc.Weight <= 0 {
			return fmt.Errorf("service %q weight must be positive: got %v", svc.Name, svc.Weight)
		}
		weightSum += svc.Weight
	}
	if weightSum < 1-weightTolerance || weightSum > 1+weightTolerance {
		return fmt.Errorf("service weights must sum to 1: got %v", weightSum)
	}

	if len(c.Regions) == 0 {
		return fmt.Errorf("at least one region must be declared")
	}
	regions := make(map[string]bool, len(c.Regions))
	for _, region := range c.Regions {
		if region == "" {
			return fmt.Errorf("region names must not be empty")
		}
		if regions[region] {
			return fmt.Errorf("region %q declared twice", region)
		}
		regions[region] = true
	}

	if len(c.Groups) == 0 {
		return fmt.Errorf("at least one traffic group must be declared")
	}
	groups := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if err := validateGroup(g, regions); err != nil {
			return err
		}
		if groups[g.Name] {
			return fmt.Errorf("traffic group %q declared twice", g.Name)
		}
		groups[g.Name] = true
	}

	for i, dep := range c.Dependencies {
		if !services[dep.Upstream] {
			return fmt.Errorf("dependencies[%d]: unknown upstream service %q", i, dep.Upstream)
		}
		if !services[dep.Downstream] {
			return fmt.Errorf("dependencies[%d]: unknown downstream service %q", i, dep.Downstream)
		}
		if dep.Upstream == dep.Downstream {
			return fmt.Errorf("dependencies[%d]: service %q cannot depend on itself", i, dep.Upstream)
		}
		if dep.Weight <= 0 || dep.Weight > 1 {
			return fmt.Errorf("dependencies[%d]: weight must be in (0, 1]: got %v", i, dep.Weight)
		}
	}

	if t := c.Providers.Probe.URLTemplate; t != "" && strings.Count(t, "%s") != 2 {
		return fmt.Errorf("providers.probe.urlTemplate must contain exactly two %%s placeholders")
	}
	if c.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.maxRetries must not be negative")
	}
	if c.Executor.InitialBackoff <= 0 || c.Executor.MaxBackoff < c.Executor.InitialBackoff {
		return fmt.Errorf("executor backoff bounds are invalid: initial %v, max %v",
			c.Executor.InitialBackoff, c.Executor.MaxBackoff)
	}
	switch c.Journal.Backend {
	case "memory", "valkey":
	default:
		return fmt.Errorf("journal.backend must be \"memory\" or \"valkey\": got %q", c.Journal.Backend)
	}
	if c.Journal.Enabled && c.Journal.Backend == "valkey" && c.Journal.Addr == "" {
		return fmt.Errorf("journal.addr is required when the valkey journal is enabled")
	}
	if c.History.MaxEvents < 1 {
		return fmt.Errorf("history.maxEvents must be at least 1")
	}
	return nil
}

const weightTolerance = 1e-6

func (c *Config) validateEngine() error {
	e := c.Engine
	if e.PollInterval < 10*time.Second || e.PollInterval > time.Minute {
		return fmt.Errorf("engine.pollInterval must be between 10s and 60s: got %v", e.PollInterval)
	}
	if e.Workers < 1 {
		return fmt.Errorf("engine.workers must be at least 1")
	}
	if e.ProbeTimeout <= 0 {
		return fmt.Errorf("engine.probeTimeout must be positive")
	}
	if e.MinSamples < 1 {
		return fmt.Errorf("engine.minSamples must be at least 1")
	}
	if e.WindowSize < e.MinSamples {
		return fmt.Errorf("engine.windowSize %d must not be below engine.minSamples %d",
			e.WindowSize, e.MinSamples)
	}
	if e.HealthThreshold <= 0 || e.HealthThreshold >= 1 {
		return fmt.Errorf("engine.healthThreshold must be in (0, 1): got %v", e.HealthThreshold)
	}
	if e.WarningThreshold < e.HealthThreshold || e.WarningThreshold > 1 {
		return fmt.Errorf("engine.warningThreshold must be in [healthThreshold, 1]: got %v",
			e.WarningThreshold)
	}
	if e.ResponseTimeThreshold <= 0 {
		return fmt.Errorf("engine.responseTimeThreshold must be positive")
	}
	if e.ConsecutiveFailuresThreshold < 1 {
		return fmt.Errorf("engine.consecutiveFailuresThreshold must be at least 1")
	}
	if e.CooldownCycles < 1 {
		return fmt.Errorf("engine.cooldownCycles must be at least 1")
	}
	if e.AnomalyPenaltyWeight < 0 || e.AnomalyPenaltyWeight > 1 {
		return fmt.Errorf("engine.anomalyPenaltyWeight must be in [0, 1]: got %v", e.AnomalyPenaltyWeight)
	}
	if e.CascadeDepth < 1 {
		return fmt.Errorf("engine.cascadeDepth must be at least 1")
	}
	return nil
}

func validateGroup(g GroupConfig, regions map[string]bool) error {
	if g.Name == "" {
		return fmt.Errorf("traffic group names must not be empty")
	}
	if !regions[g.PrimaryRegion] {
		return fmt.Errorf("traffic group %q: unknown primary region %q", g.Name, g.PrimaryRegion)
	}
	if len(g.SecondaryRegions) == 0 {
		return fmt.Errorf("traffic group %q has no secondary regions", g.Name)
	}
	seen := map[string]bool{g.PrimaryRegion: true}
	for _, region := range g.SecondaryRegions {
		if !regions[region] {
			return fmt.Errorf("traffic group %q: unknown secondary region %q", g.Name, region)
		}
		if seen[region] {
			return fmt.Errorf("traffic group %q lists region %q twice", g.Name, region)
		}
		seen[region] = true
	}
	if g.DNSZone == "" || g.DNSRecord == "" {
		return fmt.Errorf("traffic group %q needs both dnsZone and dnsRecord", g.Name)
	}
	if g.CDNDistribution == "" {
		return fmt.Errorf("traffic group %q needs a cdnDistribution", g.Name)
	}
	if g.ScaleSurge < 0 {
		return fmt.Errorf("traffic group %q: scaleSurge must not be negative", g.Name)
	}
	for region := range seen {
		if g.RegionEndpoints[region] == "" {
			return fmt.Errorf("traffic group %q: missing endpoint for region %q", g.Name, region)
		}
		if g.ScalingTargets[region] == "" {
			return fmt.Errorf("traffic group %q: missing scaling target for region %q", g.Name, region)
		}
	}
	return nil
}
