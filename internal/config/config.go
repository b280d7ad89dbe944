// Package config loads the layered Brainshape configuration: compiled-in
// defaults, then a user/global YAML file, then a store-local YAML file,
// then BRAINSHAPE_* environment variables, each layer overriding the last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the complete Brainshape engine configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Chunk      ChunkConfig      `yaml:"chunk" json:"chunk"`
	Watch      WatchConfig      `yaml:"watch" json:"watch"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	LogLevel   string           `yaml:"log_level" json:"log_level"`
}

// PathsConfig locates the two filesystem roots the engine manages.
type PathsConfig struct {
	// NotesRoot is the directory Notes I/O and the watcher operate under.
	NotesRoot string `yaml:"notes_root" json:"notes_root"`
	// StoreRoot holds the embedded store's files (SQLite db, HNSW snapshot, lock file).
	StoreRoot string `yaml:"store_root" json:"store_root"`
}

// SearchConfig selects the keyword index backend. RRFConstant and MaxResults
// are loaded and validated but not read by the retrieval surface, which has
// no hybrid ranking.
type SearchConfig struct {
	// BM25Backend selects the keyword index backend: "sqlite" (default, FTS5) or "bleve".
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
	// RRFConstant is the reciprocal-rank-fusion smoothing constant (k).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	MaxResults  int `yaml:"max_results" json:"max_results"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider: "static" (deterministic, offline, default) or "ollama".
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	// OllamaHost is the Ollama API endpoint, used when Provider == "ollama".
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`
	// CacheSize bounds the LRU query-embedding cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// ChunkConfig configures the fixed-size overlapping chunk splitter.
type ChunkConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// WatchConfig configures the filesystem watcher's debounce window.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce"`
	// Poll, if true, forces the polling fallback even where fsnotify works.
	Poll bool `yaml:"poll" json:"poll"`
}

// StoreConfig configures the embedded store's SQLite connection.
type StoreConfig struct {
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			NotesRoot: "",
			StoreRoot: defaultStoreRoot(),
		},
		Search: SearchConfig{
			BM25Backend: "sqlite",
			RRFConstant: 60,
			MaxResults:  20,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Model:      "static-768",
			Dimensions: 768,
			BatchSize:  32,
			OllamaHost: "",
			CacheSize:  512,
		},
		Chunk: ChunkConfig{
			Size:    4000,
			Overlap: 200,
		},
		Watch: WatchConfig{
			Debounce: "2s",
			Poll:     false,
		},
		Store: StoreConfig{
			SQLiteCacheMB: 64,
		},
		LogLevel: "info",
	}
}

func defaultStoreRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".brainshape")
	}
	return filepath.Join(home, ".brainshape")
}

// GetUserConfigPath returns the user/global configuration file path,
// honoring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "brainshape", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "brainshape", "config.yaml")
	}
	return filepath.Join(home, ".config", "brainshape", "config.yaml")
}

func loadUserConfig() (*Config, error) {
	path := GetUserConfigPath()
	if !fileExists(path) {
		return nil, nil
	}
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the final Config by layering, in increasing precedence:
// defaults, the user/global config file, storeRoot/config.yaml, then
// BRAINSHAPE_* environment variables.
func Load(storeRoot string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if storeRoot != "" {
		localPath := filepath.Join(storeRoot, "config.yaml")
		if fileExists(localPath) {
			if err := cfg.loadYAML(localPath); err != nil {
				return nil, err
			}
		}
		cfg.Paths.StoreRoot = storeRoot
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Paths.NotesRoot != "" {
		c.Paths.NotesRoot = other.Paths.NotesRoot
	}
	if other.Paths.StoreRoot != "" {
		c.Paths.StoreRoot = other.Paths.StoreRoot
	}
	if other.Search.BM25Backend != "" {
		c.Search.BM25Backend = other.Search.BM25Backend
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Chunk.Size != 0 {
		c.Chunk.Size = other.Chunk.Size
	}
	if other.Chunk.Overlap != 0 {
		c.Chunk.Overlap = other.Chunk.Overlap
	}
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Watch.Poll {
		c.Watch.Poll = other.Watch.Poll
	}
	if other.Store.SQLiteCacheMB != 0 {
		c.Store.SQLiteCacheMB = other.Store.SQLiteCacheMB
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BRAINSHAPE_NOTES_ROOT"); v != "" {
		c.Paths.NotesRoot = v
	}
	if v := os.Getenv("BRAINSHAPE_STORE_ROOT"); v != "" {
		c.Paths.StoreRoot = v
	}
	if v := os.Getenv("BRAINSHAPE_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}
	if v := os.Getenv("BRAINSHAPE_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("BRAINSHAPE_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("BRAINSHAPE_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("BRAINSHAPE_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("BRAINSHAPE_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunk.Size = n
		}
	}
	if v := os.Getenv("BRAINSHAPE_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Chunk.Overlap = n
		}
	}
	if v := os.Getenv("BRAINSHAPE_WATCH_DEBOUNCE"); v != "" {
		c.Watch.Debounce = v
	}
	if v := os.Getenv("BRAINSHAPE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects configurations that violate the engine's invariants.
func (c *Config) Validate() error {
	if c.Paths.NotesRoot != "" && c.Paths.StoreRoot != "" {
		notesAbs, err1 := filepath.Abs(c.Paths.NotesRoot)
		storeAbs, err2 := filepath.Abs(c.Paths.StoreRoot)
		if err1 == nil && err2 == nil {
			rel, err := filepath.Rel(notesAbs, storeAbs)
			if err == nil && !strings.HasPrefix(rel, "..") && rel != "." {
				return fmt.Errorf("store_root (%s) must not live inside notes_root (%s)", c.Paths.StoreRoot, c.Paths.NotesRoot)
			}
		}
	}
	if c.Paths.NotesRoot != "" {
		notesAbs, err1 := filepath.Abs(c.Paths.NotesRoot)
		exe, err2 := os.Executable()
		if err1 == nil && err2 == nil {
			installDir := filepath.Dir(exe)
			up, errUp := filepath.Rel(notesAbs, installDir)
			down, errDown := filepath.Rel(installDir, notesAbs)
			if (errUp == nil && !strings.HasPrefix(up, "..")) || (errDown == nil && !strings.HasPrefix(down, "..")) {
				return fmt.Errorf("notes_root (%s) must not overlap the install directory (%s)", c.Paths.NotesRoot, installDir)
			}
		}
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.max_results must be non-negative, got %d", c.Search.MaxResults)
	}
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("chunk.overlap must be in [0, chunk.size), got %d (size %d)", c.Chunk.Overlap, c.Chunk.Size)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}

	validBackends := map[string]bool{"sqlite": true, "bleve": true}
	if !validBackends[strings.ToLower(c.Search.BM25Backend)] {
		return fmt.Errorf("search.bm25_backend must be 'sqlite' or 'bleve', got %s", c.Search.BM25Backend)
	}

	validProviders := map[string]bool{"static": true, "ollama": true}
	if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
		return fmt.Errorf("embeddings.provider must be 'static' or 'ollama', got %s", c.Embeddings.Provider)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.LogLevel)
	}

	return nil
}

// WriteYAML persists the configuration to path, e.g. store_root/config.yaml.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
