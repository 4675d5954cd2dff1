package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the tier server.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Database DatabaseConfig `yaml:"database"`
	Tier     TierConfig     `yaml:"tier"`

	// Pois seeds the NPC population at startup. POIs whose NPCs already
	// exist in the archive are skipped by the server wiring.
	Pois []PoiSeed `yaml:"pois"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// TierConfig holds the tier manager and scheduler tunables.
// Intervals are seconds; each loop has a documented floor enforced by the
// scheduler (60s management, 300s maintenance, 600s optimization).
type TierConfig struct {
	TransitionsPerCycle     int `yaml:"transitions_per_cycle"`
	InteractionHistoryLimit int `yaml:"interaction_history_limit"`

	ManagementIntervalSeconds   int `yaml:"management_interval_seconds"`
	MaintenanceIntervalSeconds  int `yaml:"maintenance_interval_seconds"`
	OptimizationIntervalSeconds int `yaml:"optimization_interval_seconds"`
}

// PoiSeed describes a POI whose NPC population is registered at startup.
type PoiSeed struct {
	ID        string `yaml:"id"`
	NpcCount  int    `yaml:"npc_count"`
	Archetype string `yaml:"archetype"`
}

// Default returns a Config with production defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Database: DatabaseConfig{
			Host:    "127.0.0.1",
			Port:    5432,
			User:    "tierserver",
			DBName:  "tierserver",
			SSLMode: "disable",
		},
		Tier: TierConfig{
			TransitionsPerCycle:         100,
			InteractionHistoryLimit:     32,
			ManagementIntervalSeconds:   300,
			MaintenanceIntervalSeconds:  3600,
			OptimizationIntervalSeconds: 7200,
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
