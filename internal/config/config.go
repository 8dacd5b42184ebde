package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Paths struct {
		Archive string `yaml:"archive"` // archive JSON file
		Textos  string `yaml:"textos"`  // entry text files root
		State   string `yaml:"state"`   // pending records directory
		Index   string `yaml:"index"`   // keyword index database
	} `yaml:"paths"`
	AI struct {
		Provider    string `yaml:"provider"`
		Model       string `yaml:"model"`
		APIKey      string `yaml:"api_key"`
		MinKeywords int    `yaml:"min_keywords"`
		MaxKeywords int    `yaml:"max_keywords"`
	} `yaml:"ai"`
	Docs struct {
		PoemsURL    string `yaml:"poems_url"`    // exported HTML of the poems document
		AnalysisURL string `yaml:"analysis_url"` // exported HTML of the analysis document
	} `yaml:"docs"`
	Git struct {
		Remote string `yaml:"remote"`
		Branch string `yaml:"branch"`
	} `yaml:"git"`
	LogLevel string `yaml:"log_level"`
}

// LoadConfig reads config.yaml, after loading .env if present, and applies
// QMP_* environment overrides. Missing file yields pure defaults.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := defaults()

	// 2. Load YAML config
	file, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// 3. Override with environment variables if present
	if v := os.Getenv("QMP_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("QMP_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("QMP_MAX_KEYWORDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AI.MaxKeywords = n
		}
	}
	if v := os.Getenv("QMP_ARCHIVE"); v != "" {
		cfg.Paths.Archive = v
	}
	if v := os.Getenv("QMP_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.fillEmpty()
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.fillEmpty()
	return cfg
}

func (c *Config) fillEmpty() {
	if c.Paths.Archive == "" {
		c.Paths.Archive = filepath.Join("data", "archivo.json")
	}
	if c.Paths.Textos == "" {
		c.Paths.Textos = filepath.Join("data", "textos")
	}
	if c.Paths.State == "" {
		c.Paths.State = "state"
	}
	if c.Paths.Index == "" {
		c.Paths.Index = filepath.Join("state", "index.db")
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "gemini"
	}
	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.5-flash"
	}
	if c.AI.MinKeywords <= 0 {
		c.AI.MinKeywords = 10
	}
	if c.AI.MaxKeywords <= 0 {
		c.AI.MaxKeywords = 25
	}
	if c.Git.Remote == "" {
		c.Git.Remote = "origin"
	}
	if c.Git.Branch == "" {
		c.Git.Branch = "main"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
