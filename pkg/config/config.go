package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the process needs. It is loaded once in main
// and passed into constructors by value, never looked up globally.
type Config struct {
	Database struct {
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		User         string `yaml:"user"`
		Password     string `yaml:"password"`
		DatabaseName string `yaml:"database"`
	} `yaml:"database"`

	RabbitMQ struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"rabbitmq"`

	Inventory struct {
		BaseURL        string `yaml:"base_url"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		APIVersion     string `yaml:"api_version"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"inventory"`

	OnlineCache struct {
		AdminURL       string `yaml:"admin_url"`
		DownloadURL    string `yaml:"download_url"` // public base for product download links
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"online_cache"`

	Policy struct {
		PurgeDays         int `yaml:"purge_days"`
		PurgeLockMinutes  int `yaml:"purge_lock_minutes"`
		StuckHours        int `yaml:"stuck_hours"`
		RetryLimit        int `yaml:"retry_limit"`
		OnOrderPollLimit  int `yaml:"onorder_poll_limit"`
		SubmittedBatchCap int `yaml:"submitted_batch_cap"`
	} `yaml:"policy"`

	API struct {
		Port int `yaml:"port"`
	} `yaml:"api"`
}

// LoadConfig reads and parses the yaml config file at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	if cfg.Database.Host == "" || cfg.Database.DatabaseName == "" {
		return nil, fmt.Errorf("config %s: database host and database name are required", path)
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.RabbitMQ.Port == 0 {
		c.RabbitMQ.Port = 5672
	}
	if c.Inventory.TimeoutSeconds == 0 {
		c.Inventory.TimeoutSeconds = 30
	}
	if c.OnlineCache.TimeoutSeconds == 0 {
		c.OnlineCache.TimeoutSeconds = 30
	}
	if c.Policy.PurgeDays == 0 {
		c.Policy.PurgeDays = 10
	}
	if c.Policy.PurgeLockMinutes == 0 {
		c.Policy.PurgeLockMinutes = 240
	}
	if c.Policy.StuckHours == 0 {
		c.Policy.StuckHours = 6
	}
	if c.Policy.RetryLimit == 0 {
		c.Policy.RetryLimit = 5
	}
	if c.Policy.OnOrderPollLimit == 0 {
		c.Policy.OnOrderPollLimit = 500
	}
	if c.Policy.SubmittedBatchCap == 0 {
		c.Policy.SubmittedBatchCap = 500
	}
	if c.API.Port == 0 {
		c.API.Port = 4004
	}
}

// DatabaseURL builds the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DatabaseName)
}

// RabbitURL builds the amqp connection string.
func (c *Config) RabbitURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port)
}

// InventoryTimeout returns the per-call deadline for gateway requests.
func (c *Config) InventoryTimeout() time.Duration {
	return time.Duration(c.Inventory.TimeoutSeconds) * time.Second
}

// OnlineCacheTimeout returns the per-call deadline for cache admin requests.
func (c *Config) OnlineCacheTimeout() time.Duration {
	return time.Duration(c.OnlineCache.TimeoutSeconds) * time.Second
}

// PurgeCutoff returns the completion-date cutoff for purging orders.
func (c *Config) PurgeCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -c.Policy.PurgeDays)
}

// StuckCutoff returns the status-modified cutoff for stuck in-flight scenes.
func (c *Config) StuckCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.Policy.StuckHours) * time.Hour)
}

// PurgeLockTTL returns how long the purge time-lock stays armed.
func (c *Config) PurgeLockTTL() time.Duration {
	return time.Duration(c.Policy.PurgeLockMinutes) * time.Minute
}
