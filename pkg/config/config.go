// Package config provides configuration management for facegate.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all facegate configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Detection  DetectionConfig  `yaml:"detection"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Fallback   FallbackConfig   `yaml:"fallback"`
	Enrollment EnrollmentConfig `yaml:"enrollment"`
	OTP        OTPConfig        `yaml:"otp"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig holds filesystem layout settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// DetectionConfig holds face detection settings.
type DetectionConfig struct {
	CascadeFile string  `yaml:"cascade_file"`
	MinSize     int     `yaml:"min_size"`
	MaxSize     int     `yaml:"max_size"`
	ShiftFactor float64 `yaml:"shift_factor"`
	ScaleFactor float64 `yaml:"scale_factor"`
	Quality     float64 `yaml:"quality"`
}

// EmbeddingConfig holds settings for the descriptor network.
type EmbeddingConfig struct {
	ModelFile           string  `yaml:"model_file"`
	InputName           string  `yaml:"input_name"`
	OutputName          string  `yaml:"output_name"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// FallbackConfig holds settings for the histogram classifier used when the
// descriptor network is unavailable.
type FallbackConfig struct {
	GridX             int     `yaml:"grid_x"`
	GridY             int     `yaml:"grid_y"`
	DistanceThreshold float64 `yaml:"distance_threshold"`
}

// EnrollmentConfig holds enrollment workflow settings.
type EnrollmentConfig struct {
	MinImages  int     `yaml:"min_images"`
	CropMargin float64 `yaml:"crop_margin"`
	FaceSize   int     `yaml:"face_size"`
}

// OTPConfig holds one-time-code settings.
type OTPConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// SMTPConfig holds mail delivery settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/facegate")
	return &Config{
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Detection: DetectionConfig{
			CascadeFile: filepath.Join(dataDir, "models", "facefinder"),
			MinSize:     20,
			MaxSize:     1000,
			ShiftFactor: 0.1,
			ScaleFactor: 1.1,
			Quality:     5.0,
		},
		Embedding: EmbeddingConfig{
			ModelFile:           filepath.Join(dataDir, "models", "openface.onnx"),
			InputName:           "input",
			OutputName:          "output",
			SimilarityThreshold: 0.60,
		},
		Fallback: FallbackConfig{
			GridX:             8,
			GridY:             8,
			DistanceThreshold: 60,
		},
		Enrollment: EnrollmentConfig{
			MinImages:  10,
			CropMargin: 0.2,
			FaceSize:   96,
		},
		OTP: OTPConfig{
			TTLSeconds: 300,
		},
		SMTP: SMTPConfig{
			Host:     "smtp.gmail.com",
			Port:     587,
			FromName: "Facegate",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "facegate.log"),
		},
	}
}

// Load loads configuration from the specified file.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/facegate/facegate.yaml"); err == nil {
		return Load("/etc/facegate/facegate.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/facegate/facegate.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Detection.CascadeFile = ExpandPath(c.Detection.CascadeFile)
	c.Embedding.ModelFile = ExpandPath(c.Embedding.ModelFile)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir must not be empty")
	}

	if c.Detection.MinSize <= 0 || c.Detection.MaxSize < c.Detection.MinSize {
		return fmt.Errorf("invalid detection size range: %d-%d", c.Detection.MinSize, c.Detection.MaxSize)
	}
	if c.Detection.ShiftFactor <= 0 || c.Detection.ShiftFactor > 1 {
		return fmt.Errorf("shift_factor must be in (0, 1], got %f", c.Detection.ShiftFactor)
	}
	if c.Detection.ScaleFactor <= 1 {
		return fmt.Errorf("scale_factor must be greater than 1, got %f", c.Detection.ScaleFactor)
	}

	if c.Embedding.SimilarityThreshold < 0 || c.Embedding.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be between 0 and 1, got %f", c.Embedding.SimilarityThreshold)
	}

	if c.Fallback.GridX <= 0 || c.Fallback.GridY <= 0 {
		return fmt.Errorf("fallback grid must be positive, got %dx%d", c.Fallback.GridX, c.Fallback.GridY)
	}
	if c.Fallback.DistanceThreshold <= 0 {
		return fmt.Errorf("distance_threshold must be positive, got %f", c.Fallback.DistanceThreshold)
	}

	if c.Enrollment.MinImages <= 0 {
		return fmt.Errorf("min_images must be positive, got %d", c.Enrollment.MinImages)
	}
	if c.Enrollment.CropMargin < 0 || c.Enrollment.CropMargin > 1 {
		return fmt.Errorf("crop_margin must be between 0 and 1, got %f", c.Enrollment.CropMargin)
	}
	if c.Enrollment.FaceSize <= 0 {
		return fmt.Errorf("face_size must be positive, got %d", c.Enrollment.FaceSize)
	}

	if c.OTP.TTLSeconds <= 0 {
		return fmt.Errorf("otp ttl_seconds must be positive, got %d", c.OTP.TTLSeconds)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// UsersDir returns the identity gallery root.
func (c *Config) UsersDir() string {
	return filepath.Join(c.Storage.DataDir, "users")
}

// StagingDir returns the root for temporary enrollment sessions.
func (c *Config) StagingDir() string {
	return filepath.Join(c.Storage.DataDir, "staging")
}

// TrainerDir returns the directory holding persisted index artifacts.
func (c *Config) TrainerDir() string {
	return filepath.Join(c.Storage.DataDir, "trainer")
}

// ModelsDir returns the directory holding downloaded model files.
func (c *Config) ModelsDir() string {
	return filepath.Join(c.Storage.DataDir, "models")
}

// EnsureDirectories creates the directories facegate needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.UsersDir(), c.StagingDir(), c.TrainerDir(), c.ModelsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	logDir := filepath.Dir(c.Logging.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	return nil
}
