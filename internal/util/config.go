// Package util provides common utilities for lanscope.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir" yaml:"data_dir"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`

	// Interval between background device rescans in daemon mode
	RescanInterval time.Duration `mapstructure:"rescan_interval" yaml:"rescan_interval"`

	Discovery DiscoveryConfig `mapstructure:"discovery" yaml:"discovery"`
	SpeedTest SpeedTestConfig `mapstructure:"speedtest" yaml:"speedtest"`
	Traffic   TrafficConfig   `mapstructure:"traffic" yaml:"traffic"`
	Public    PublicConfig    `mapstructure:"public" yaml:"public"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
}

// DiscoveryConfig controls the device discovery pipeline.
type DiscoveryConfig struct {
	ProbeMethod      string        `mapstructure:"probe_method" yaml:"probe_method"`
	ProbePort        int           `mapstructure:"probe_port" yaml:"probe_port"`
	ProbeConcurrency int           `mapstructure:"probe_concurrency" yaml:"probe_concurrency"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	SettleDelay      time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ARPTimeout       time.Duration `mapstructure:"arp_timeout" yaml:"arp_timeout"`
	DNSTimeout       time.Duration `mapstructure:"dns_timeout" yaml:"dns_timeout"`
	VendorURL        string        `mapstructure:"vendor_url" yaml:"vendor_url"`
	VendorLimit      int           `mapstructure:"vendor_limit" yaml:"vendor_limit"`
	VendorDelay      time.Duration `mapstructure:"vendor_delay" yaml:"vendor_delay"`
}

// SpeedTestConfig controls the speed test stages.
type SpeedTestConfig struct {
	PingURL          string        `mapstructure:"ping_url" yaml:"ping_url"`
	DownloadURL      string        `mapstructure:"download_url" yaml:"download_url"`
	UploadURL        string        `mapstructure:"upload_url" yaml:"upload_url"`
	PingAttempts     int           `mapstructure:"ping_attempts" yaml:"ping_attempts"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	DownloadDuration time.Duration `mapstructure:"download_duration" yaml:"download_duration"`
	UploadDuration   time.Duration `mapstructure:"upload_duration" yaml:"upload_duration"`
	UploadSize       int           `mapstructure:"upload_size" yaml:"upload_size"`
}

// TrafficConfig controls the traffic estimator.
type TrafficConfig struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	EvictAfter     time.Duration `mapstructure:"evict_after" yaml:"evict_after"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	Autostart      bool          `mapstructure:"autostart" yaml:"autostart"`
}

// PublicConfig controls public IP and geolocation lookups.
type PublicConfig struct {
	GeoURL      string        `mapstructure:"geo_url" yaml:"geo_url"`
	IPProviders []string      `mapstructure:"ip_providers" yaml:"ip_providers"`
	STUNServers []string      `mapstructure:"stun_servers" yaml:"stun_servers"`
	GeoIPDB     string        `mapstructure:"geoip_db" yaml:"geoip_db"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// APIConfig controls the local HTTP API.
type APIConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".lanscope")

	return &Config{
		DataDir:  dataDir,
		LogLevel: "info",
		LogFile:  filepath.Join(dataDir, "lanscope.log"),

		RescanInterval: 10 * time.Minute,

		Discovery: DiscoveryConfig{
			ProbeMethod:      "tcp",
			ProbePort:        80,
			ProbeConcurrency: 30,
			ProbeTimeout:     300 * time.Millisecond,
			SettleDelay:      500 * time.Millisecond,
			ARPTimeout:       10 * time.Second,
			DNSTimeout:       2 * time.Second,
			VendorURL:        "https://api.macvendors.com/",
			VendorLimit:      20,
			VendorDelay:      120 * time.Millisecond,
		},

		SpeedTest: SpeedTestConfig{
			PingURL:          "https://speed.cloudflare.com/__down?bytes=0",
			DownloadURL:      "https://speed.cloudflare.com/__down?bytes=25000000",
			UploadURL:        "https://speed.cloudflare.com/__up",
			PingAttempts:     5,
			PingTimeout:      3 * time.Second,
			DownloadDuration: 12 * time.Second,
			UploadDuration:   10 * time.Second,
			UploadSize:       2 * 1024 * 1024,
		},

		Traffic: TrafficConfig{
			Interval:       3 * time.Second,
			EvictAfter:     45 * time.Second,
			CommandTimeout: 5 * time.Second,
			Autostart:      true,
		},

		Public: PublicConfig{
			GeoURL: "https://ipinfo.io/json",
			IPProviders: []string{
				"https://api.ipify.org",
				"https://ifconfig.me/ip",
				"https://icanhazip.com",
			},
			STUNServers: []string{
				"stun.l.google.com:19302",
				"stun.cloudflare.com:3478",
			},
			Timeout: 5 * time.Second,
		},

		API: APIConfig{Port: 7878},
	}
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(cfgFile string) (*Config, error) {
	cfg := DefaultConfig()

	// Ensure config directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(cfg.DataDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("lanscope")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setDefaults registers every key so environment overrides resolve.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("rescan_interval", cfg.RescanInterval)

	v.SetDefault("discovery.probe_method", cfg.Discovery.ProbeMethod)
	v.SetDefault("discovery.probe_port", cfg.Discovery.ProbePort)
	v.SetDefault("discovery.probe_concurrency", cfg.Discovery.ProbeConcurrency)
	v.SetDefault("discovery.probe_timeout", cfg.Discovery.ProbeTimeout)
	v.SetDefault("discovery.settle_delay", cfg.Discovery.SettleDelay)
	v.SetDefault("discovery.arp_timeout", cfg.Discovery.ARPTimeout)
	v.SetDefault("discovery.dns_timeout", cfg.Discovery.DNSTimeout)
	v.SetDefault("discovery.vendor_url", cfg.Discovery.VendorURL)
	v.SetDefault("discovery.vendor_limit", cfg.Discovery.VendorLimit)
	v.SetDefault("discovery.vendor_delay", cfg.Discovery.VendorDelay)

	v.SetDefault("speedtest.ping_url", cfg.SpeedTest.PingURL)
	v.SetDefault("speedtest.download_url", cfg.SpeedTest.DownloadURL)
	v.SetDefault("speedtest.upload_url", cfg.SpeedTest.UploadURL)
	v.SetDefault("speedtest.ping_attempts", cfg.SpeedTest.PingAttempts)
	v.SetDefault("speedtest.ping_timeout", cfg.SpeedTest.PingTimeout)
	v.SetDefault("speedtest.download_duration", cfg.SpeedTest.DownloadDuration)
	v.SetDefault("speedtest.upload_duration", cfg.SpeedTest.UploadDuration)
	v.SetDefault("speedtest.upload_size", cfg.SpeedTest.UploadSize)

	v.SetDefault("traffic.interval", cfg.Traffic.Interval)
	v.SetDefault("traffic.evict_after", cfg.Traffic.EvictAfter)
	v.SetDefault("traffic.command_timeout", cfg.Traffic.CommandTimeout)
	v.SetDefault("traffic.autostart", cfg.Traffic.Autostart)

	v.SetDefault("public.geo_url", cfg.Public.GeoURL)
	v.SetDefault("public.ip_providers", cfg.Public.IPProviders)
	v.SetDefault("public.stun_servers", cfg.Public.STUNServers)
	v.SetDefault("public.geoip_db", cfg.Public.GeoIPDB)
	v.SetDefault("public.timeout", cfg.Public.Timeout)

	v.SetDefault("api.port", cfg.API.Port)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Discovery.ProbeMethod {
	case "tcp", "icmp":
	default:
		return fmt.Errorf("discovery.probe_method must be tcp or icmp, got %q", c.Discovery.ProbeMethod)
	}
	if c.Discovery.ProbeConcurrency <= 0 {
		return fmt.Errorf("discovery.probe_concurrency must be positive")
	}
	if c.Discovery.ProbeTimeout <= 0 {
		return fmt.Errorf("discovery.probe_timeout must be positive")
	}
	if c.SpeedTest.PingAttempts <= 0 {
		return fmt.Errorf("speedtest.ping_attempts must be positive")
	}
	if c.SpeedTest.DownloadDuration <= 0 || c.SpeedTest.UploadDuration <= 0 {
		return fmt.Errorf("speedtest durations must be positive")
	}
	if c.SpeedTest.UploadSize <= 0 {
		return fmt.Errorf("speedtest.upload_size must be positive")
	}
	if c.Traffic.Interval <= 0 {
		return fmt.Errorf("traffic.interval must be positive")
	}
	if c.Traffic.EvictAfter <= 0 {
		return fmt.Errorf("traffic.evict_after must be positive")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	return nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureDir ensures a directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
