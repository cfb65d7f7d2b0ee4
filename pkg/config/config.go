// Package config loads the ghost YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath is where the CLI looks for the configuration file
	DefaultPath = "/etc/ghost/config.yml"

	DefaultRootPath         = "/ghost"
	DefaultDataDir          = "/var/lib/ghost"
	DefaultLogDir           = "/var/log/ghost"
	DefaultProvider         = "aws"
	DefaultPackageRetention = 42
	DefaultWorkers          = 4
	DefaultPollInterval     = 5 * time.Second
	DefaultMetricsAddr      = ":9090"
)

// Config is the process-wide configuration. It is loaded once and passed
// explicitly to every component constructor.
type Config struct {
	BucketS3         string          `yaml:"bucket_s3"`
	BucketRegion     string          `yaml:"bucket_region"`
	RootPath         string          `yaml:"ghost_root_path"`
	DataDir          string          `yaml:"data_dir"`
	LogDir           string          `yaml:"log_dir"`
	DefaultProvider  string          `yaml:"default_provider"`
	Workers          int             `yaml:"workers"`
	PollInterval     time.Duration   `yaml:"poll_interval"`
	PackageRetention int             `yaml:"deployment_package_retention"`
	MetricsAddr      string          `yaml:"metrics_addr"`
	Log              LogConfig       `yaml:"log"`
	SSH              SSHConfig       `yaml:"ssh"`
	BlueGreen        BlueGreenConfig `yaml:"blue_green"`
}

// LogConfig configures the global logger
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// SSHConfig configures the remote executor. DeployCommand and PurgeCommand
// accept the {{root}}, {{app}}, {{env}}, {{role}}, {{module}}, {{path}} and
// {{package}} placeholders.
type SSHConfig struct {
	User          string        `yaml:"user"`
	Port          int           `yaml:"port"`
	KeyPath       string        `yaml:"key_path"`
	KnownHosts    string        `yaml:"known_hosts"`
	Timeout       time.Duration `yaml:"timeout"`
	DeployCommand string        `yaml:"deploy_command"`
	PurgeCommand  string        `yaml:"purge_command"`
}

// BlueGreenConfig mirrors the blue_green section of the configuration
type BlueGreenConfig struct {
	Enabled bool                 `yaml:"enabled"`
	Prepare PrepareBlueGreenConf `yaml:"preparebluegreen"`
	Purge   PurgeBlueGreenConf   `yaml:"purgebluegreen"`
}

// PrepareBlueGreenConf holds the preparebluegreen defaults
type PrepareBlueGreenConf struct {
	CopyAMI              bool `yaml:"copy_ami"`
	ModuleDeployRequired bool `yaml:"module_deploy_required"`
}

// PurgeBlueGreenConf holds the purgebluegreen defaults
type PurgeBlueGreenConf struct {
	DestroyTempELB *bool `yaml:"destroy_temporary_elb"`
}

// DestroyTemporaryELB defaults to true when unset
func (p PurgeBlueGreenConf) DestroyTemporaryELB() bool {
	return p.DestroyTempELB == nil || *p.DestroyTempELB
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RootPath == "" {
		c.RootPath = DefaultRootPath
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = DefaultProvider
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PackageRetention <= 0 {
		c.PackageRetention = DefaultPackageRetention
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.SSH.User == "" {
		c.SSH.User = "admin"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.Timeout <= 0 {
		c.SSH.Timeout = 30 * time.Second
	}
	if c.SSH.DeployCommand == "" {
		c.SSH.DeployCommand = "sudo /usr/local/bin/ghost-bootstrap.sh {{module}}"
	}
	if c.SSH.PurgeCommand == "" {
		c.SSH.PurgeCommand = "sudo rm -rf {{root}}/{{package}}"
	}
}

// Validate checks the settings every command depends on
func (c *Config) Validate() error {
	if c.BucketS3 == "" {
		return fmt.Errorf("config: bucket_s3 is required")
	}
	if c.RootPath == "" || c.RootPath[0] != '/' {
		return fmt.Errorf("config: ghost_root_path must be an absolute path")
	}
	return nil
}

// BucketRegionFor returns the region of the package bucket, defaulting to
// the region of the app being deployed
func (c *Config) BucketRegionFor(appRegion string) string {
	if c.BucketRegion != "" {
		return c.BucketRegion
	}
	return appRegion
}
