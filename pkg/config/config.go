package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL     string  `yaml:"base_url"`
		ChatModel   string  `yaml:"chat_model"`
		EmbedModel  string  `yaml:"embed_model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		MaxRetries  int     `yaml:"max_retries"`
		RateLimit   float64 `yaml:"rate_limit"`
	} `yaml:"llm"`

	Store struct {
		Path      string `yaml:"path"`
		DBURL     string `yaml:"db_url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
	} `yaml:"store"`

	Ingest struct {
		ChunkSize     int `yaml:"chunk_size"`
		ChunkOverlap  int `yaml:"chunk_overlap"`
		MinChunkChars int `yaml:"min_chunk_chars"`
		BatchSize     int `yaml:"batch_size"`
		Workers       int `yaml:"workers"`
	} `yaml:"ingest"`

	Retrieval struct {
		TopK            int     `yaml:"top_k"`
		MinScore        float64 `yaml:"min_score"`
		MaxContextChars int     `yaml:"max_context_chars"`
	} `yaml:"retrieval"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/manualqa/config.yaml"),
			"/etc/manualqa/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	applyDefaults(config)
	mergeWithEnv(config)
	return config, nil
}

// applyDefaults leaves store.vector_dim and retrieval.min_score
// alone. The dimension depends on the embedding model and a wrong
// guess corrupts the index; a score floor of 0 is a legitimate
// "keep everything" setting.
func applyDefaults(config *Config) {
	if config.LLM.ChatModel == "" {
		config.LLM.ChatModel = "mistral"
	}
	if config.LLM.EmbedModel == "" {
		config.LLM.EmbedModel = "nomic-embed-text"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.1
	}
	if config.LLM.MaxRetries == 0 {
		config.LLM.MaxRetries = 2
	}
	if config.LLM.RateLimit == 0 {
		config.LLM.RateLimit = 4.0
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Store.Path == "" && config.Store.DBURL == "" {
		config.Store.Path = "manuals.idx"
	}
	if config.Store.TableName == "" {
		config.Store.TableName = "passages"
	}

	if config.Ingest.ChunkSize == 0 {
		config.Ingest.ChunkSize = 1500
	}
	if config.Ingest.ChunkOverlap == 0 {
		config.Ingest.ChunkOverlap = 150
	}
	if config.Ingest.MinChunkChars == 0 {
		config.Ingest.MinChunkChars = 250
	}
	if config.Ingest.BatchSize == 0 {
		config.Ingest.BatchSize = 32
	}
	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 5
	}
	if config.Retrieval.MaxContextChars == 0 {
		config.Retrieval.MaxContextChars = 8000
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Store.DBURL = dbURL
	}
}
