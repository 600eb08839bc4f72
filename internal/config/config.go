// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/zephyrroute/pkg/name"
)

// Routing modes.
const (
	ModeLinkState  = "link-state"
	ModeHyperbolic = "hyperbolic"
)

type Config struct {
	Router    RouterConfig     `yaml:"router"`
	Hello     HelloConfig      `yaml:"hello"`
	Transport TransportConfig  `yaml:"transport"`
	Neighbors []NeighborConfig `yaml:"neighbors"`
	Etcd      EtcdConfig       `yaml:"etcd"`
	API       APIConfig        `yaml:"api"`
}

type RouterConfig struct {
	// Name is this router's identity, e.g. /campus/router-a.
	Name string `yaml:"name"`
	// Mode selects what a liveness transition recomputes:
	// link-state rebuilds the adjacency advertisement, hyperbolic
	// recalculates the routing table directly.
	Mode string `yaml:"mode"`
}

func (r RouterConfig) Hyperbolic() bool { return r.Mode == ModeHyperbolic }

type HelloConfig struct {
	SweepIntervalS int    `yaml:"sweep_interval_s"`
	ProbeLifetimeS int    `yaml:"probe_lifetime_s"`
	RetryThreshold uint32 `yaml:"retry_threshold"`
	DataFreshnessS int    `yaml:"data_freshness_s"`
}

func (h HelloConfig) SweepInterval() time.Duration {
	return time.Duration(h.SweepIntervalS) * time.Second
}

func (h HelloConfig) ProbeLifetime() time.Duration {
	return time.Duration(h.ProbeLifetimeS) * time.Second
}

func (h HelloConfig) DataFreshness() time.Duration {
	return time.Duration(h.DataFreshnessS) * time.Second
}

type TransportConfig struct {
	// Listen is the UDP address hello traffic binds to.
	Listen string `yaml:"listen"`
	// SigningKey is the shared MAC key for the routing domain.
	SigningKey string `yaml:"signing_key"`
	// ContentStoreBytes caps the in-memory data cache.
	ContentStoreBytes int `yaml:"content_store_bytes"`
}

type NeighborConfig struct {
	Name string `yaml:"name"`
	// Address is the neighbor's transport endpoint. Optional: an empty
	// address leaves the neighbor faceless until discovery finds one.
	Address string `yaml:"address"`
}

type EtcdConfig struct {
	// Endpoints of the discovery cluster. Empty disables discovery.
	Endpoints    []string `yaml:"endpoints"`
	DialTimeoutS int      `yaml:"dial_timeout_s"`
	// RegisterTTLS is the lease TTL for this router's registration.
	RegisterTTLS int64 `yaml:"register_ttl_s"`
}

func (e EtcdConfig) Enabled() bool { return len(e.Endpoints) > 0 }

func (e EtcdConfig) DialTimeout() time.Duration {
	return time.Duration(e.DialTimeoutS) * time.Second
}

type APIConfig struct {
	// Listen is the HTTP status/metrics address.
	Listen string `yaml:"listen"`
}

func DefaultConfig() *Config {
	return &Config{
		Router: RouterConfig{Mode: ModeLinkState},
		Hello: HelloConfig{
			SweepIntervalS: 60,
			ProbeLifetimeS: 4,
			RetryThreshold: 3,
			DataFreshnessS: 10,
		},
		Transport: TransportConfig{
			Listen:            ":6363",
			ContentStoreBytes: 1 << 20,
		},
		Etcd: EtcdConfig{
			DialTimeoutS: 5,
			RegisterTTLS: 10,
		},
		API: APIConfig{Listen: ":8080"},
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := name.Parse(c.Router.Name); err != nil {
		return fmt.Errorf("config: router.name: %w", err)
	}
	if c.Router.Mode != ModeLinkState && c.Router.Mode != ModeHyperbolic {
		return fmt.Errorf("config: router.mode must be %q or %q, got %q",
			ModeLinkState, ModeHyperbolic, c.Router.Mode)
	}
	if c.Hello.SweepIntervalS <= 0 {
		return fmt.Errorf("config: hello.sweep_interval_s must be > 0")
	}
	if c.Hello.ProbeLifetimeS <= 0 {
		return fmt.Errorf("config: hello.probe_lifetime_s must be > 0")
	}
	if c.Hello.RetryThreshold == 0 {
		return fmt.Errorf("config: hello.retry_threshold must be > 0")
	}
	if c.Hello.DataFreshnessS <= 0 {
		return fmt.Errorf("config: hello.data_freshness_s must be > 0")
	}
	if c.Transport.SigningKey == "" {
		return fmt.Errorf("config: transport.signing_key is required")
	}
	for i, nb := range c.Neighbors {
		if _, err := name.Parse(nb.Name); err != nil {
			return fmt.Errorf("config: neighbors[%d].name: %w", i, err)
		}
		if nb.Name == c.Router.Name {
			return fmt.Errorf("config: neighbors[%d] is this router itself", i)
		}
	}
	return nil
}
