package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DataDir returns the default data directory for runmymodel.
// Windows: %LOCALAPPDATA%\runmymodel
// Linux/Mac: ~/.local/share/runmymodel
func DataDir() string {
	if dir := os.Getenv("RUNMYMODEL_DATA_DIR"); dir != "" {
		return dir
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "runmymodel")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "runmymodel")
}

// ConfigDir returns the directory holding config.yaml and prompts.yaml.
func ConfigDir() string {
	if dir := os.Getenv("RUNMYMODEL_CONFIG_DIR"); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "runmymodel")
	}
	return DataDir()
}

// LogDir returns the directory where log files are written.
func LogDir() string {
	return filepath.Join(DataDir(), "logs")
}

// StatePath returns the default path of the persisted state for a driver.
func StatePath(driver string) string {
	switch driver {
	case DriverFile:
		return filepath.Join(DataDir(), "state")
	default:
		return filepath.Join(DataDir(), "state.db")
	}
}

// EnsureDirs creates the required directories if they don't exist.
func EnsureDirs(cfg *Config) error {
	dirs := []string{DataDir(), filepath.Dir(cfg.Log.File)}
	if cfg.Storage.Driver == DriverFile {
		dirs = append(dirs, cfg.Storage.Path)
	} else if cfg.Storage.Driver == DriverSQLite {
		dirs = append(dirs, filepath.Dir(cfg.Storage.Path))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
