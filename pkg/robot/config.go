package robot

import (
	"encoding/json"
	"os"
)

const DefaultConfigFile = "telearm.json"

// Config holds the session configuration written by setup.
type Config struct {
	Leaders   []ArmConfig `json:"leaders"`
	Followers []ArmConfig `json:"followers"`
}

// ArmConfig holds configuration for a single arm.
type ArmConfig struct {
	Port        string `json:"port"`
	Calibration string `json:"calibration,omitempty"` // path to the calibration record
}

// IsCalibrated returns true if the arm has a calibration record on disk.
func (a *ArmConfig) IsCalibrated() bool {
	if a.Calibration == "" {
		return false
	}
	rec, err := LoadRecord(a.Calibration)
	return err == nil && rec.Complete()
}

// Ports returns every configured port, leaders first.
func (c *Config) Ports() []string {
	ports := make([]string, 0, len(c.Leaders)+len(c.Followers))
	for _, a := range c.Leaders {
		ports = append(ports, a.Port)
	}
	for _, a := range c.Followers {
		ports = append(ports, a.Port)
	}
	return ports
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
