package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/alexanderjulianmartinez/db-transfer/pkg/types"
)

const (
	DefaultPort      = 3306
	DefaultBatchSize = 1000
	DefaultHTTPAddr  = "127.0.0.1:5000"
)

// Config is the configuration document. The JSON form (config.json) is
// valid YAML, so both formats go through the same decoder.
type Config struct {
	Server    ConnectionConfig `yaml:"server" json:"server"`
	SourceDB  ConnectionConfig `yaml:"source_db" json:"source_db"`
	TargetDB  ConnectionConfig `yaml:"target_db" json:"target_db"`
	Tables    []string         `yaml:"tables" json:"tables"`
	BatchSize int              `yaml:"batch_size" json:"batch_size"`
	Log       LogConfig        `yaml:"log" json:"log"`
	HTTP      HTTPConfig       `yaml:"http" json:"http"`
	Events    EventsConfig     `yaml:"events" json:"events"`
}

// ConnectionConfig addresses one server, optionally with a database selected.
// Values are copied, never shared, so a built config is effectively immutable.
type ConnectionConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database,omitempty"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
}

type LogConfig struct {
	File  string `yaml:"file" json:"file"`
	Level string `yaml:"level" json:"level"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type EventsConfig struct {
	Kafka KafkaConfig `yaml:"kafka" json:"kafka"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// WithDatabase returns a copy of c scoped to the named database.
func (c ConnectionConfig) WithDatabase(name string) ConnectionConfig {
	c.Database = name
	return c
}

func (c ConnectionConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return c.Host + ":" + strconv.Itoa(port)
}

// Redacted returns a copy with the password masked.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	if c.Password != "" {
		c.Password = "********"
	}
	return c
}

// Redacted returns a copy safe to display, with every password masked.
func (c Config) Redacted() Config {
	c.Server = c.Server.Redacted()
	c.SourceDB = c.SourceDB.Redacted()
	c.TargetDB = c.TargetDB.Redacted()
	c.Tables = append([]string(nil), c.Tables...)
	return c
}

func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, types.ConfigError("load", errors.New("config path is required"))
	}

	_, err := os.Stat(path)
	if err != nil {
		return nil, types.ConfigError("load", fmt.Errorf("config file not found: %w", err))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.ConfigError("load", fmt.Errorf("read config file: %w", err))
	}
	return Parse(data)
}

// Parse decodes and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, types.ConfigError("parse", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, types.ConfigError("validate", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for _, conn := range []*ConnectionConfig{&c.Server, &c.SourceDB, &c.TargetDB} {
		if conn.Port == 0 {
			conn.Port = DefaultPort
		}
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
}

func (c *Config) validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.User == "" {
		return errors.New("server.user is required")
	}
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if err := validateDatabase("source_db", c.SourceDB); err != nil {
		return err
	}
	if err := validateDatabase("target_db", c.TargetDB); err != nil {
		return err
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}

	seen := make(map[string]bool, len(c.Tables))
	for _, table := range c.Tables {
		if table == "" {
			return errors.New("tables must not contain empty names")
		}
		if seen[table] {
			return fmt.Errorf("table %s listed more than once", table)
		}
		seen[table] = true
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return errors.New("events.kafka.topic is required when brokers are set")
	}
	return nil
}

func validateDatabase(name string, c ConnectionConfig) error {
	switch {
	case c.Host == "":
		return fmt.Errorf("%s.host is required", name)
	case c.Database == "":
		return fmt.Errorf("%s.database is required", name)
	case c.User == "":
		return fmt.Errorf("%s.user is required", name)
	}
	return validatePort(name, c.Port)
}

func validatePort(name string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s.port out of range: %d", name, port)
	}
	return nil
}
