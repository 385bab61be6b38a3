package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is used when no --config flag is supplied. A missing file at this path is not an error.
const DefaultConfigPath = "./config.yml"

// Config is the complete configuration of all the climbwall servers and tools.
type Config struct {
	Server struct {
		Port     string `yaml:"port"`
		SavePath string `yaml:"save_path"`
	} `yaml:"server"`

	Database struct {
		// Driver is either sqlite or mysql
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"database"`

	Sqlite struct {
		Filename string `yaml:"filename"`
	} `yaml:"sqlite"`

	Segment struct {
		PredictorURL    string        `yaml:"predictor_url"`
		ModelType       string        `yaml:"model_type"`
		Checkpoint      string        `yaml:"checkpoint"`
		Device          string        `yaml:"device"`
		Timeout         time.Duration `yaml:"timeout"`
		SessionTTL      time.Duration `yaml:"session_ttl"`
		UndoCapacity    int           `yaml:"undo_capacity"`
		HistoryCapacity int           `yaml:"history_capacity"`
	} `yaml:"segment"`

	Agent struct {
		Port            string        `yaml:"port"`
		LogFile         string        `yaml:"log_file"`
		GifDir          string        `yaml:"gif_dir"`
		Headless        bool          `yaml:"headless"`
		MaxSteps        int           `yaml:"max_steps"`
		StepInterval    time.Duration `yaml:"step_interval"`
		PreviewInterval time.Duration `yaml:"preview_interval"`
		LogLines        int           `yaml:"log_lines"`
		BaseURL         string        `yaml:"base_url"`
		Model           string        `yaml:"model"`
	} `yaml:"agent"`

	Ollama struct {
		BaseURL string        `yaml:"base_url"`
		Model   string        `yaml:"model"`
		Port    string        `yaml:"port"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"ollama"`

	Tutorial struct {
		Port      string `yaml:"port"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"tutorial"`
}

// DefaultConfig returns the configuration used for every key that is not present in the YAML file.
func DefaultConfig() *Config {
	config := &Config{}
	config.Server.Port = "8990"
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	config.Server.SavePath = filepath.Join(home, "Downloads")

	config.Database.Driver = "sqlite"
	config.Sqlite.Filename = "climbwall.sqlite"

	config.Segment.PredictorURL = "http://localhost:8991"
	config.Segment.ModelType = "vit_h"
	config.Segment.Checkpoint = "checkpoint/sam_vit_h_4b8939.pth"
	config.Segment.Device = "cpu"
	config.Segment.Timeout = 120 * time.Second
	config.Segment.SessionTTL = 30 * time.Minute
	config.Segment.UndoCapacity = 1000
	config.Segment.HistoryCapacity = 500

	config.Agent.Port = "8082"
	config.Agent.LogFile = "output.log"
	config.Agent.GifDir = "."
	config.Agent.Headless = true
	config.Agent.MaxSteps = 100
	config.Agent.StepInterval = time.Second
	config.Agent.PreviewInterval = 3 * time.Second
	config.Agent.LogLines = 30
	config.Agent.Model = "deepseek-r1"

	config.Ollama.BaseURL = "http://localhost:11434"
	config.Ollama.Model = "llama3.2"
	config.Ollama.Port = "8000"
	config.Ollama.Timeout = 5 * time.Minute

	config.Tutorial.Port = "5000"
	config.Tutorial.SecretKey = "your_secret_key_here"
	return config
}

// NewConfig Create a new config from the YAML file at configPath, on top of DefaultConfig
func NewConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	file, err := os.Open(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && configPath == DefaultConfigPath {
			log.Debug(fmt.Sprintf("No config file at %s, using defaults", configPath))
			return config, nil
		}
		return nil, err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot decode config %s: %w", configPath, err)
	}
	return config, nil
}

// ValidateConfigPath Make sure the path exists and is a regular file
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath {
			return nil
		}
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a normal file", path)
	}
	return nil
}
