package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.hybridmind.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".hybridmind")
}

// DBPath returns the app-owned chat database path.
func DBPath() string {
	return filepath.Join(BaseDir(), "chat.db")
}

// DownloadsDir returns the directory holding model binaries and their
// completion markers.
func DownloadsDir() string {
	return filepath.Join(BaseDir(), "downloads")
}

// ImagesDir returns the directory holding chat image attachments.
func ImagesDir() string {
	return filepath.Join(BaseDir(), "images")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// LogPath returns the daemon log file path.
func LogPath() string {
	return filepath.Join(LogDir(), "hybridmindd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the app directory tree with owner-only permissions.
func EnsureDirs() error {
	dirs := []string{
		BaseDir(),
		DownloadsDir(),
		ImagesDir(),
		LogDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
