package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.OCI.Binary != "oci" {
		t.Errorf("default binary = %q, want %q", cfg.OCI.Binary, "oci")
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("default ttl = %v, want %v", cfg.Cache.TTL, time.Hour)
	}
	if cfg.Cache.NodeStateTTL != 5*time.Minute {
		t.Errorf("default node state ttl = %v, want %v", cfg.Cache.NodeStateTTL, 5*time.Minute)
	}
	if cfg.Cache.Workers != 8 {
		t.Errorf("default workers = %d, want 8", cfg.Cache.Workers)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
oci:
  profile: GPU
  region: us-ashburn-1
  compartment_id: ocid1.compartment.oc1..aaa
  timeout: 30s
cache:
  dir: /var/cache/gpufleet
  ttl: 30m
  workers: 16
kube:
  context: gpu-prod
log:
  level: debug
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OCI.Profile != "GPU" || cfg.OCI.Region != "us-ashburn-1" {
		t.Errorf("oci = %+v", cfg.OCI)
	}
	if cfg.OCI.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.OCI.Timeout)
	}
	if cfg.Cache.Dir != "/var/cache/gpufleet" || cfg.Cache.TTL != 30*time.Minute || cfg.Cache.Workers != 16 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Kube.Context != "gpu-prod" {
		t.Errorf("kube context = %q", cfg.Kube.Context)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	// Unset fields keep their defaults.
	if cfg.Cache.NodeStateTTL != 5*time.Minute {
		t.Errorf("node state ttl = %v, want default", cfg.Cache.NodeStateTTL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Load() should return defaults for missing file, got error: %v", err)
	}
	want := DefaultConfig()
	if *cfg != want {
		t.Errorf("Load(missing) = %+v, want defaults %+v", *cfg, want)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "{{invalid yaml")); err == nil {
		t.Fatal("Load(invalid YAML) should return error")
	}
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeConfig(t, "cache:\n  tll: 1h\n"))
	if err == nil {
		t.Fatal("Load() should return error for unknown field 'tll'")
	}
}

func TestLoad_CommentOnlyAndEmpty(t *testing.T) {
	for name, body := range map[string]string{
		"comment only": "# just a comment\n",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, body))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if *cfg != DefaultConfig() {
				t.Errorf("Load() = %+v, want defaults", *cfg)
			}
		})
	}
}

func TestLoadLayered_Priority(t *testing.T) {
	// Given a user config setting the profile and workers
	userCfg := writeConfig(t, `
oci:
  profile: USER
cache:
  workers: 4
`)
	// And a project config overriding only the workers
	projectCfg := writeConfig(t, `
cache:
  workers: 12
`)

	// When both are loaded in order
	cfg, err := LoadLayered(userCfg, projectCfg)
	if err != nil {
		t.Fatalf("LoadLayered() error = %v", err)
	}

	// Then the later layer wins only where it sets a value
	if cfg.OCI.Profile != "USER" {
		t.Errorf("profile = %q, want USER", cfg.OCI.Profile)
	}
	if cfg.Cache.Workers != 12 {
		t.Errorf("workers = %d, want 12", cfg.Cache.Workers)
	}
	if cfg.Cache.Dir != ".gpufleet/cache" {
		t.Errorf("dir = %q, want default", cfg.Cache.Dir)
	}
}

func TestLoadLayered_AllMissing(t *testing.T) {
	cfg, err := LoadLayered("/no/user.yaml", "/no/project.yaml")
	if err != nil {
		t.Fatalf("LoadLayered(all missing) error = %v", err)
	}
	if *cfg != DefaultConfig() {
		t.Errorf("got %+v, want defaults", *cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr bool
		check   func(*testing.T, Config)
	}{
		{
			name: "GPUFLEET_COMPARTMENT_ID overrides compartment",
			envs: map[string]string{"GPUFLEET_COMPARTMENT_ID": "ocid1.compartment.oc1..env"},
			check: func(t *testing.T, c Config) {
				if c.OCI.CompartmentID != "ocid1.compartment.oc1..env" {
					t.Errorf("compartment = %q", c.OCI.CompartmentID)
				}
			},
		},
		{
			name: "profile and region",
			envs: map[string]string{"GPUFLEET_PROFILE": "P", "GPUFLEET_REGION": "eu-frankfurt-1"},
			check: func(t *testing.T, c Config) {
				if c.OCI.Profile != "P" || c.OCI.Region != "eu-frankfurt-1" {
					t.Errorf("oci = %+v", c.OCI)
				}
			},
		},
		{
			name: "GPUFLEET_WORKERS overrides workers",
			envs: map[string]string{"GPUFLEET_WORKERS": "3"},
			check: func(t *testing.T, c Config) {
				if c.Cache.Workers != 3 {
					t.Errorf("workers = %d, want 3", c.Cache.Workers)
				}
			},
		},
		{
			name: "GPUFLEET_TIMEOUT overrides timeout",
			envs: map[string]string{"GPUFLEET_TIMEOUT": "45s"},
			check: func(t *testing.T, c Config) {
				if c.OCI.Timeout != 45*time.Second {
					t.Errorf("timeout = %v, want 45s", c.OCI.Timeout)
				}
			},
		},
		{
			name: "GPUFLEET_CACHE_DIR overrides dir",
			envs: map[string]string{"GPUFLEET_CACHE_DIR": "/tmp/fleet"},
			check: func(t *testing.T, c Config) {
				if c.Cache.Dir != "/tmp/fleet" {
					t.Errorf("dir = %q", c.Cache.Dir)
				}
			},
		},
		{
			name:    "invalid GPUFLEET_WORKERS returns error",
			envs:    map[string]string{"GPUFLEET_WORKERS": "many"},
			wantErr: true,
		},
		{
			name:    "invalid GPUFLEET_TIMEOUT returns error",
			envs:    map[string]string{"GPUFLEET_TIMEOUT": "notaduration"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}
			cfg := DefaultConfig()
			err := cfg.ApplyEnv()

			if tt.wantErr {
				if err == nil {
					t.Fatal("ApplyEnv() should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyEnv() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", modify: func(*Config) {}},
		{name: "empty binary", modify: func(c *Config) { c.OCI.Binary = "" }, wantErr: true},
		{name: "zero timeout", modify: func(c *Config) { c.OCI.Timeout = 0 }, wantErr: true},
		{name: "empty cache dir", modify: func(c *Config) { c.Cache.Dir = "" }, wantErr: true},
		{name: "negative ttl", modify: func(c *Config) { c.Cache.TTL = -time.Second }, wantErr: true},
		{name: "zero node state ttl", modify: func(c *Config) { c.Cache.NodeStateTTL = 0 }, wantErr: true},
		{name: "zero workers", modify: func(c *Config) { c.Cache.Workers = 0 }, wantErr: true},
		{name: "unknown log level", modify: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "info log level", modify: func(c *Config) { c.Log.Level = "info" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequireCompartment(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.RequireCompartment(); err == nil || !strings.Contains(err.Error(), "GPUFLEET_COMPARTMENT_ID") {
		t.Errorf("RequireCompartment() = %v, want hint about env var", err)
	}
	cfg.OCI.CompartmentID = "ocid1.compartment.oc1..x"
	if err := cfg.RequireCompartment(); err != nil {
		t.Errorf("RequireCompartment() = %v", err)
	}
}

func TestDefaultPaths(t *testing.T) {
	t.Setenv("HOME", "/home/op")
	paths := DefaultPaths()
	if len(paths) != 2 {
		t.Fatalf("paths = %v", paths)
	}
	if paths[0] != filepath.Join("/home/op", ".config", "gpufleet", "config.yaml") {
		t.Errorf("user path = %q", paths[0])
	}
	if paths[1] != filepath.Join(".gpufleet", "config.yaml") {
		t.Errorf("project path = %q", paths[1])
	}
}
