package store

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"loom/internal/embedding"
)

// embeddingConfigYAML mirrors embedding.Config with yaml tags, since that
// type only carries json tags for its own provider-config marshaling.
type embeddingConfigYAML struct {
	Provider       string `yaml:"provider"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

func (c embeddingConfigYAML) toEmbeddingConfig() embedding.Config {
	return embedding.Config{
		Provider:       c.Provider,
		OllamaEndpoint: c.OllamaEndpoint,
		OllamaModel:    c.OllamaModel,
		GenAIAPIKey:    c.GenAIAPIKey,
		GenAIModel:     c.GenAIModel,
		TaskType:       c.TaskType,
	}
}

// ProjectConfig is the contents of a project's .loom/config.yaml.
type ProjectConfig struct {
	ExcludePatterns []string            `yaml:"exclude_patterns"`
	RequireVector   bool                `yaml:"require_vector"`
	Embedding       embeddingConfigYAML `yaml:"embedding"`
}

// EmbeddingConfig converts the parsed YAML embedding block into the
// embedding package's own Config type.
func (c *ProjectConfig) EmbeddingConfig() embedding.Config {
	cfg := c.Embedding.toEmbeddingConfig()
	if cfg.Provider == "" {
		return embedding.DefaultConfig()
	}
	return cfg
}

const (
	storeDirName  = ".loom"
	storeFileName = "store.db"
	configFile    = "config.yaml"
)

// StorePath returns the database path for a project root.
func StorePath(projectRoot string) string {
	return filepath.Join(projectRoot, storeDirName, storeFileName)
}

// LoadProjectConfig reads .loom/config.yaml under projectRoot. Returns a
// zero-value config, not an error, when the file doesn't exist - an
// un-configured project is the common case, not a failure.
func LoadProjectConfig(projectRoot string) (*ProjectConfig, error) {
	path := filepath.Join(projectRoot, storeDirName, configFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ProjectConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ActiveProjectFile returns where the user-level "currently active
// project" pointer is stored, so CLI invocations from any directory can
// find the right store without an explicit --project flag.
func ActiveProjectFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "loom", "active_project"), nil
}

// SetActiveProject records projectRoot as the active project.
func SetActiveProject(projectRoot string) error {
	path, err := ActiveProjectFile()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(abs), 0o644)
}

// ResolveProjectRoot finds the project a loom command should operate on:
// an explicit path if given, else the recorded active project, else the
// nearest ancestor directory (starting from the working directory) that
// already has a .loom/store.db.
func ResolveProjectRoot(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}

	if activeFile, err := ActiveProjectFile(); err == nil {
		if data, err := os.ReadFile(activeFile); err == nil {
			candidate := string(data)
			if _, err := os.Stat(StorePath(candidate)); err == nil {
				return candidate, nil
			}
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := cwd
	for {
		if _, err := os.Stat(StorePath(dir)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return cwd, nil
}
