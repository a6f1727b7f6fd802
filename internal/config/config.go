package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Battle struct {
		MinParticipants int     `yaml:"minParticipants"`
		MaxParticipants int     `yaml:"maxParticipants"`
		WaitingTimeout  string  `yaml:"waitingTimeout"`
		ReadyCountdown  string  `yaml:"readyCountdown"`
		HeartbeatWindow string  `yaml:"heartbeatWindow"`
		Retention       string  `yaml:"retention"`
		ScoreFloor      float64 `yaml:"scoreFloor"`
		QuestionLimitMs int64   `yaml:"questionLimitMs"`
	} `yaml:"battle"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
