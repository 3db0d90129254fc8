// Package config loads and validates process configuration: defaults
// embedded in the binary, layered with an optional YAML file, layered
// with environment overrides — the same three-tier koanf load order
// the teacher's ApxConfig used, generalized to the fleet's listen
// addresses, pool sizing, and proxy/tenant policy defaults.
package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"

	apxerrors "browserfleet/errors"
)

var DefaultConfig = []byte(`
application: "browserfleet"

logger:
  level: "info"
  encoding: "console"

cors:
  allowed_origins:
  - "https://localhost"
  - "https://localhost:3000"

listen:
  http: ":8080"
  ws: ":8081"
  rpc: ":8082"

prefix: "/fleet"

pool:
  min: 2
  max: 10
  target_idle: 2
  idle_grace: 1
  launch_timeout_seconds: 30
  health_check_interval_seconds: 15
  health_check_timeout_seconds: 5
  unhealthy_threshold: 3
  drain_timeout_seconds: 30
  driver: "playwright"

proxy:
  strategy: "round-robin"
  rotate_on_error: true
  failover_threshold: 3
  rotation_interval_seconds: 300
  probe_interval_seconds: 60

executor:
  history_ring_size: 500
  max_batch_size: 100
  default_timeout_seconds: 30
  hard_timeout_seconds: 120
  allow_private_networks: false
  allow_file_protocol: false

tenant:
  default_tier: "free"

registry:
  backend: "memory"
  mongo_uri: ""
  mongo_database: "browserfleet"
  sweep_interval_seconds: 30

event_mirror:
  enabled: false
  brokers: []
  topic: "browserfleet.events"

artifact:
  backend: "memory"
  s3_region: ""
  s3_bucket: ""
`)

// Config is the top-level process configuration.
type Config struct {
	Application string      `koanf:"application"`
	Logger      LoggerConf  `koanf:"logger"`
	Cors        CORS        `koanf:"cors"`
	Listen      ListenConf  `koanf:"listen"`
	Prefix      string      `koanf:"prefix"`
	Pool        PoolConf    `koanf:"pool"`
	Proxy       ProxyConf   `koanf:"proxy"`
	Executor    ExecutorConf `koanf:"executor"`
	Tenant      TenantConf  `koanf:"tenant"`
	Registry    RegistryConf `koanf:"registry"`
	EventMirror EventMirrorConf `koanf:"event_mirror"`
	Artifact    ArtifactConf `koanf:"artifact"`
	Hostname    string      `koanf:"hostname"`
}

type LoggerConf struct {
	Level    string `koanf:"level"`
	Encoding string `koanf:"encoding"`
	HostName string `koanf:"host_name"`
}

type CORS struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// ListenConf carries one address per front-end protocol (§6.5). Each
// can be disabled by leaving it blank, letting an operator run a
// subset of adapters in a single process.
type ListenConf struct {
	HTTP string `koanf:"http"`
	WS   string `koanf:"ws"`
	RPC  string `koanf:"rpc"`
}

type PoolConf struct {
	Min                       int    `koanf:"min"`
	Max                       int    `koanf:"max"`
	TargetIdle                int    `koanf:"target_idle"`
	IdleGrace                 int    `koanf:"idle_grace"`
	LaunchTimeoutSeconds      int    `koanf:"launch_timeout_seconds"`
	HealthCheckIntervalSeconds int   `koanf:"health_check_interval_seconds"`
	HealthCheckTimeoutSeconds int    `koanf:"health_check_timeout_seconds"`
	UnhealthyThreshold        int    `koanf:"unhealthy_threshold"`
	DrainTimeoutSeconds       int    `koanf:"drain_timeout_seconds"`
	Driver                    string `koanf:"driver"` // playwright | container
}

type ProxyConf struct {
	Strategy                string `koanf:"strategy"`
	RotateOnError           bool   `koanf:"rotate_on_error"`
	FailoverThreshold       int    `koanf:"failover_threshold"`
	RotationIntervalSeconds int    `koanf:"rotation_interval_seconds"`
	ProbeIntervalSeconds    int    `koanf:"probe_interval_seconds"`
}

type ExecutorConf struct {
	HistoryRingSize       int  `koanf:"history_ring_size"`
	MaxBatchSize          int  `koanf:"max_batch_size"`
	DefaultTimeoutSeconds int  `koanf:"default_timeout_seconds"`
	HardTimeoutSeconds    int  `koanf:"hard_timeout_seconds"`
	AllowPrivateNetworks  bool `koanf:"allow_private_networks"`
	AllowFileProtocol     bool `koanf:"allow_file_protocol"`
}

type TenantConf struct {
	DefaultTier string `koanf:"default_tier"`
}

type RegistryConf struct {
	Backend              string `koanf:"backend"` // memory | mongo
	MongoURI             string `koanf:"mongo_uri"`
	MongoDatabase        string `koanf:"mongo_database"`
	SweepIntervalSeconds int    `koanf:"sweep_interval_seconds"`
}

// EventMirrorConf configures the optional Kafka event-bus sink.
type EventMirrorConf struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// ArtifactConf selects the artifact Store backend.
type ArtifactConf struct {
	Backend  string `koanf:"backend"` // memory | s3
	S3Region string `koanf:"s3_region"`
	S3Bucket string `koanf:"s3_bucket"`
}

// Load layers defaults, an optional YAML file, and environment
// variables prefixed FLEET_ (nested keys use "__", e.g.
// FLEET_POOL__MAX=20), the same defaults-then-file-then-env order the
// teacher's config loading followed.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "loading default config", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, apxerrors.Wrap(apxerrors.Internal, "loading config file "+path, err)
		}
	}

	_ = k.Load(env.Provider("FLEET_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "FLEET_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "unmarshalling config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration, matching the teacher's
// accumulate-then-return pattern.
func (c *Config) Validate() error {
	ve := apxerrors.ValidationErrs()

	if c.Application == "" {
		c.Application = "browserfleet"
	}
	if c.Logger.Level == "" {
		ve.Add("logger.level", "cannot be empty")
	}
	if c.Listen.HTTP == "" && c.Listen.WS == "" && c.Listen.RPC == "" {
		ve.Add("listen", "at least one front-end must have a listen address")
	}
	if c.Pool.Min < 0 {
		ve.Add("pool.min", "cannot be negative")
	}
	if c.Pool.Max < c.Pool.Min {
		ve.Add("pool.max", "cannot be less than pool.min")
	}
	if c.Pool.TargetIdle > c.Pool.Max {
		ve.Add("pool.target_idle", "cannot exceed pool.max")
	}
	if c.Pool.Driver != "playwright" && c.Pool.Driver != "container" {
		ve.Add("pool.driver", "must be 'playwright' or 'container'")
	}
	switch c.Proxy.Strategy {
	case "round-robin", "priority", "least-failures", "random":
	default:
		ve.Add("proxy.strategy", "must be one of round-robin, priority, least-failures, random")
	}
	if c.Executor.MaxBatchSize <= 0 || c.Executor.MaxBatchSize > 100 {
		ve.Add("executor.max_batch_size", "must be in (0,100]")
	}
	if c.Registry.Backend != "memory" && c.Registry.Backend != "mongo" {
		ve.Add("registry.backend", "must be 'memory' or 'mongo'")
	}
	if c.Registry.Backend == "mongo" && c.Registry.MongoURI == "" {
		ve.Add("registry.mongo_uri", "required when registry.backend is 'mongo'")
	}
	if c.EventMirror.Enabled && len(c.EventMirror.Brokers) == 0 {
		ve.Add("event_mirror.brokers", "required when event_mirror.enabled is true")
	}
	if c.Artifact.Backend != "memory" && c.Artifact.Backend != "s3" {
		ve.Add("artifact.backend", "must be 'memory' or 's3'")
	}
	if c.Artifact.Backend == "s3" && (c.Artifact.S3Region == "" || c.Artifact.S3Bucket == "") {
		ve.Add("artifact.s3_bucket", "s3_region and s3_bucket are required when artifact.backend is 's3'")
	}

	if host, err := os.Hostname(); err == nil {
		c.Logger.HostName = host
	} else {
		ve.Add("hostname", "invalid")
	}

	return ve.Err()
}
