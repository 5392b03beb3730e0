// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all gpufleet configuration.
type Config struct {
	OCI   OCI   `yaml:"oci"`
	Cache Cache `yaml:"cache"`
	Kube  Kube  `yaml:"kube"`
	Log   Log   `yaml:"log"`
}

// OCI holds cloud CLI invocation settings.
type OCI struct {
	Binary        string        `yaml:"binary"`
	Profile       string        `yaml:"profile"`
	Region        string        `yaml:"region"`
	ConfigFile    string        `yaml:"config_file"`
	Auth          string        `yaml:"auth"` // passed as --auth when set, e.g. "instance_principal"
	CompartmentID string        `yaml:"compartment_id"`
	TenancyID     string        `yaml:"tenancy_id"` // announcements scope; defaults to the compartment
	Timeout       time.Duration `yaml:"timeout"`    // per CLI call
}

// Cache holds flat-file cache settings.
type Cache struct {
	Dir          string        `yaml:"dir"`
	TTL          time.Duration `yaml:"ttl"`
	NodeStateTTL time.Duration `yaml:"node_state_ttl"`
	Workers      int           `yaml:"workers"` // parallel detail fetches
}

// Kube holds Kubernetes client settings.
type Kube struct {
	Kubeconfig  string `yaml:"kubeconfig"`
	Context     string `yaml:"context"`
	GPUResource string `yaml:"gpu_resource"`
}

// Log holds logging settings.
type Log struct {
	Level string `yaml:"level"` // "debug" | "info" | "warn" | "error"
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		OCI: OCI{
			Binary:  "oci",
			Timeout: 2 * time.Minute,
		},
		Cache: Cache{
			Dir:          ".gpufleet/cache",
			TTL:          time.Hour,
			NodeStateTTL: 5 * time.Minute,
			Workers:      8,
		},
		Kube: Kube{
			GPUResource: "nvidia.com/gpu",
		},
		Log: Log{
			Level: "warn",
		},
	}
}

// DefaultPaths returns the user then project config file paths, lowest
// priority first.
func DefaultPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "gpufleet", "config.yaml"))
	}
	return append(paths, filepath.Join(".gpufleet", "config.yaml"))
}

// Load reads a single YAML config file at path and returns a Config.
// For merging multiple config sources, use LoadLayered instead.
// If the file does not exist, defaults are returned without error.
func Load(path string) (*Config, error) {
	return LoadLayered(path)
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.OCI.Binary == "" {
		return errors.New("config: oci.binary cannot be empty")
	}
	if c.OCI.Timeout <= 0 {
		return fmt.Errorf("config: oci.timeout must be positive, got %v", c.OCI.Timeout)
	}
	if c.Cache.Dir == "" {
		return errors.New("config: cache.dir cannot be empty")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config: cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Cache.NodeStateTTL <= 0 {
		return fmt.Errorf("config: cache.node_state_ttl must be positive, got %v", c.Cache.NodeStateTTL)
	}
	if c.Cache.Workers < 1 {
		return fmt.Errorf("config: cache.workers must be at least 1, got %d", c.Cache.Workers)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("config: log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	return nil
}

// RequireCompartment reports an error when no compartment is configured.
// Only commands that reach the cloud need one.
func (c *Config) RequireCompartment() error {
	if c.OCI.CompartmentID == "" {
		return errors.New("config: oci.compartment_id is required (set it in config.yaml or GPUFLEET_COMPARTMENT_ID)")
	}
	return nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: GPUFLEET_PROFILE, GPUFLEET_REGION,
// GPUFLEET_COMPARTMENT_ID, GPUFLEET_TENANCY_ID, GPUFLEET_CACHE_DIR,
// GPUFLEET_WORKERS, GPUFLEET_TIMEOUT, GPUFLEET_LOG_LEVEL.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("GPUFLEET_PROFILE"); v != "" {
		c.OCI.Profile = v
	}
	if v := os.Getenv("GPUFLEET_REGION"); v != "" {
		c.OCI.Region = v
	}
	if v := os.Getenv("GPUFLEET_COMPARTMENT_ID"); v != "" {
		c.OCI.CompartmentID = v
	}
	if v := os.Getenv("GPUFLEET_TENANCY_ID"); v != "" {
		c.OCI.TenancyID = v
	}
	if v := os.Getenv("GPUFLEET_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("GPUFLEET_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid GPUFLEET_WORKERS %q: %w", v, err)
		}
		c.Cache.Workers = n
	}
	if v := os.Getenv("GPUFLEET_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid GPUFLEET_TIMEOUT %q: %w", v, err)
		}
		c.OCI.Timeout = d
	}
	if v := os.Getenv("GPUFLEET_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// rawConfig mirrors Config but uses pointers to distinguish set vs unset fields.
type rawConfig struct {
	OCI   *rawOCI   `yaml:"oci"`
	Cache *rawCache `yaml:"cache"`
	Kube  *rawKube  `yaml:"kube"`
	Log   *rawLog   `yaml:"log"`
}

type rawOCI struct {
	Binary        *string        `yaml:"binary"`
	Profile       *string        `yaml:"profile"`
	Region        *string        `yaml:"region"`
	ConfigFile    *string        `yaml:"config_file"`
	Auth          *string        `yaml:"auth"`
	CompartmentID *string        `yaml:"compartment_id"`
	TenancyID     *string        `yaml:"tenancy_id"`
	Timeout       *time.Duration `yaml:"timeout"`
}

type rawCache struct {
	Dir          *string        `yaml:"dir"`
	TTL          *time.Duration `yaml:"ttl"`
	NodeStateTTL *time.Duration `yaml:"node_state_ttl"`
	Workers      *int           `yaml:"workers"`
}

type rawKube struct {
	Kubeconfig  *string `yaml:"kubeconfig"`
	Context     *string `yaml:"context"`
	GPUResource *string `yaml:"gpu_resource"`
}

type rawLog struct {
	Level *string `yaml:"level"`
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &raw, nil
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
func (c *Config) merge(layer *rawConfig) {
	if o := layer.OCI; o != nil {
		set(&c.OCI.Binary, o.Binary)
		set(&c.OCI.Profile, o.Profile)
		set(&c.OCI.Region, o.Region)
		set(&c.OCI.ConfigFile, o.ConfigFile)
		set(&c.OCI.Auth, o.Auth)
		set(&c.OCI.CompartmentID, o.CompartmentID)
		set(&c.OCI.TenancyID, o.TenancyID)
		set(&c.OCI.Timeout, o.Timeout)
	}
	if ca := layer.Cache; ca != nil {
		set(&c.Cache.Dir, ca.Dir)
		set(&c.Cache.TTL, ca.TTL)
		set(&c.Cache.NodeStateTTL, ca.NodeStateTTL)
		set(&c.Cache.Workers, ca.Workers)
	}
	if k := layer.Kube; k != nil {
		set(&c.Kube.Kubeconfig, k.Kubeconfig)
		set(&c.Kube.Context, k.Context)
		set(&c.Kube.GPUResource, k.GPUResource)
	}
	if l := layer.Log; l != nil {
		set(&c.Log.Level, l.Level)
	}
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
