package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds all application configuration paths.
type Config struct {
	HomeDir        string
	InkforgeDir    string
	DatabasePath   string
	TranscriptsDir string
	AgentsDir      string
	LogDir         string
}

// Load resolves the app directories under the user's home, creating
// them as needed, and loads ~/.inkforge/.env into the environment when
// present. Variables already set in the environment win.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	inkforgeDir := filepath.Join(home, ".inkforge")
	transcriptsDir := filepath.Join(inkforgeDir, "transcripts")
	agentsDir := filepath.Join(inkforgeDir, "agents")
	logDir := filepath.Join(inkforgeDir, "logs")

	for _, dir := range []string{inkforgeDir, transcriptsDir, agentsDir, logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	envPath := filepath.Join(inkforgeDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}

	return &Config{
		HomeDir:        home,
		InkforgeDir:    inkforgeDir,
		DatabasePath:   filepath.Join(inkforgeDir, "inkforge.db"),
		TranscriptsDir: transcriptsDir,
		AgentsDir:      agentsDir,
		LogDir:         logDir,
	}, nil
}

// ProjectMetaDir returns the path to a project's .inkforge directory.
func (c *Config) ProjectMetaDir(projectPath string) string {
	return filepath.Join(projectPath, ".inkforge")
}
