package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = 8080
	defaultDataDir        = "data"
	defaultChecklistsDir  = "data/checklists"
	defaultMaxConcurrent  = 3
	defaultRetrievalK     = 10
	defaultChunkSize      = 1000
	defaultChunkOverlap   = 200
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
)

// LLMConfig holds model selection for evaluation and retrieval. The API key
// is taken from the environment, never from the config file.
type LLMConfig struct {
	APIKey         string `yaml:"-"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// Config describes runtime configuration for the service.
type Config struct {
	Port               int       `yaml:"port"`
	DataDir            string    `yaml:"data_dir"`
	ChecklistsDir      string    `yaml:"checklists_dir"`
	MaxConcurrentTasks int       `yaml:"max_concurrent_tasks"`
	RetrievalK         int       `yaml:"retrieval_k"`
	ChunkSize          int       `yaml:"chunk_size"`
	ChunkOverlap       int       `yaml:"chunk_overlap"`
	LLM                LLMConfig `yaml:"llm"`
}

// Default returns sane defaults for a local deployment.
func Default() Config {
	return Config{
		Port:               defaultPort,
		DataDir:            defaultDataDir,
		ChecklistsDir:      defaultChecklistsDir,
		MaxConcurrentTasks: defaultMaxConcurrent,
		RetrievalK:         defaultRetrievalK,
		ChunkSize:          defaultChunkSize,
		ChunkOverlap:       defaultChunkOverlap,
		LLM: LLMConfig{
			Model:          defaultModel,
			EmbeddingModel: defaultEmbeddingModel,
		},
	}
}

// Load reads YAML config from the provided path, then overlays environment
// variables (a .env file is honoured if present). A missing or empty file
// yields defaults with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	cfg.loadEnv()
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.ChecklistsDir == "" {
		c.ChecklistsDir = defaultChecklistsDir
	}
	// validate concurrency explicitly: values < 1 are not allowed
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", c.MaxConcurrentTasks)
	}
	if c.RetrievalK < 1 {
		c.RetrievalK = defaultRetrievalK
	}
	if c.ChunkSize < 1 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		// the default overlap could still exceed a small chunk size
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel
	}
	if c.LLM.EmbeddingModel == "" {
		c.LLM.EmbeddingModel = defaultEmbeddingModel
	}
	return nil
}

func (c *Config) loadEnv() {
	_ = godotenv.Load()
	c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("CHECKLISTS_DIR"); v != "" {
		c.ChecklistsDir = v
	}
}
