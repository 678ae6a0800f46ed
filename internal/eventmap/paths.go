package eventmap

import (
	"os"
	"path/filepath"
)

// Default document base names.
const (
	EventsDocument  = "events"
	GlobalsDocument = "globals"
)

var documentExts = []string{".yaml", ".yml", ".json"}

// SearchPaths returns event map search directories in precedence order.
func SearchPaths(projectDir string) []string {
	paths := make([]string, 0, 3)
	if projectDir != "" {
		paths = append(paths, filepath.Join(projectDir, ".fitzbot"))
	}

	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "fitzbot"))
	}

	paths = append(paths, filepath.Join(string(filepath.Separator), "usr", "share", "fitzbot"))
	return paths
}

// FindDocument returns the first existing document named base in dirs,
// trying each known extension.
func FindDocument(base string, dirs []string) (string, bool) {
	for _, dir := range dirs {
		for _, ext := range documentExts {
			path := filepath.Join(dir, base+ext)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path, true
			}
		}
	}
	return "", false
}

// Locate finds the events and globals documents under the search paths.
// Globals is empty when no globals document exists.
func Locate(projectDir string) (events string, globals string, ok bool) {
	dirs := SearchPaths(projectDir)
	events, ok = FindDocument(EventsDocument, dirs)
	if !ok {
		return "", "", false
	}
	globals, _ = FindDocument(GlobalsDocument, dirs)
	return events, globals, true
}
