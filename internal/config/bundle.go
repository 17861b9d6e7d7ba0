package config

import (
	"os"
	"path/filepath"
)

// ExecutableCandidates lists where the service binary is looked for, next to
// the launcher's own executable: the macOS bundle Resources directory first,
// then the launcher's directory.
func ExecutableCandidates(self string) []string {
	dir := filepath.Dir(self)
	return []string{
		filepath.Join(dir, "..", "Resources", ExecutableName),
		filepath.Join(dir, ExecutableName),
	}
}

// DefaultExecutable returns the first existing candidate. When none exists it
// still returns the bundle path so the spawn failure names a real location.
func DefaultExecutable() string {
	self, err := os.Executable()
	if err != nil {
		return ExecutableName
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}
	return firstExisting(ExecutableCandidates(self))
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return filepath.Clean(p)
		}
	}
	return filepath.Clean(paths[0])
}
