package ux

import (
	"os"
	"path/filepath"
)

// rootMarkers identify a project root; a state dir is checked first so a
// nested project inside a monorepo wins over the enclosing repository.
var rootMarkers = []string{".cigate", ".git"}

// FindProjectRoot returns the nearest ancestor of start (start included)
// holding one of rootMarkers. Outside any project it returns start as an
// absolute path.
func FindProjectRoot(start string) (string, error) {
	abs, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for dir := abs; ; {
		if isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, m := range rootMarkers {
		if _, err := os.Lstat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}
