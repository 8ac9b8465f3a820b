package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v2"
)

type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	MaxConns  int    `yaml:"max_conns"`
	BatchSize int    `yaml:"batch_size"`
}

type MongoConfig struct {
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Runs        string `yaml:"runs"`
		LoadedFiles string `yaml:"loaded_files"`
	} `yaml:"collections"`
}

type DBConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

type LogicConfig struct {
	MaxWorkers       int    `yaml:"max_workers"`
	AnchorOffset     string `yaml:"anchor_offset"`
	CaptureTime      string `yaml:"capture_time"`
	ShutdownGraceSec int    `yaml:"shutdown_grace_sec"`
	LogLevel         string `yaml:"log_level"`
}

type TablesConfig struct {
	Posts    string `yaml:"posts"`
	Metadata string `yaml:"metadata"`
	Users    string `yaml:"users"`
}

type StorageConfig struct {
	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	RequesterPays bool   `yaml:"requester_pays"`
}

type Config struct {
	DB      DBConfig      `yaml:"db"`
	Logic   LogicConfig   `yaml:"logic"`
	Tables  TablesConfig  `yaml:"tables"`
	Storage StorageConfig `yaml:"storage"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.DB.Postgres.MaxConns = 2
	cfg.DB.Postgres.BatchSize = 1000
	cfg.DB.Mongo.Database = "parler"
	cfg.DB.Mongo.Collections.Runs = "runs"
	cfg.DB.Mongo.Collections.LoadedFiles = "loaded_files"
	cfg.Logic.ShutdownGraceSec = 5
	cfg.Logic.LogLevel = "info"
	cfg.Tables = TablesConfig{Posts: "posts", Metadata: "metadata", Users: "users"}
	cfg.Storage.Bucket = "ddosecrets-parler"
	cfg.Storage.Region = "us-east-1"
	cfg.Storage.RequesterPays = true
	return cfg
}

// LoadConfig reads the yaml file at path on top of Default. A missing file is
// not an error. Credentials from the environment override the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadEnv loads a .env file into the process environment.
func LoadEnv(path string) {
	if err := gotenv.Load(path); err != nil {
		slog.Debug("no .env file found, using OS environment", slog.String("path", path))
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PG_DSN"); v != "" {
		c.DB.Postgres.DSN = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		c.DB.Mongo.Connection = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		c.Storage.Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Storage.Region = v
	}
}

// Offset returns the anchor offset used to project relative timestamps back
// to capture time. capture_time wins over anchor_offset when both are set.
func (l LogicConfig) Offset(now time.Time) (time.Duration, error) {
	if l.CaptureTime != "" {
		captured, err := time.Parse(time.RFC3339, l.CaptureTime)
		if err != nil {
			return 0, fmt.Errorf("capture_time: %w", err)
		}
		return now.Sub(captured), nil
	}
	if l.AnchorOffset == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(l.AnchorOffset)
	if err != nil {
		return 0, fmt.Errorf("anchor_offset: %w", err)
	}
	return d, nil
}

func (l LogicConfig) ShutdownGrace() time.Duration {
	return time.Duration(l.ShutdownGraceSec) * time.Second
}
