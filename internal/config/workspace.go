package config

import (
	"os"
	"path/filepath"
)

// DetectWorkspace walks up from startDir looking for a .serialmon/
// directory. A .env file is remembered as a fallback marker while the walk
// continues. With neither found, startDir itself is the workspace.
func DetectWorkspace(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return startDir
	}
	start := dir

	var envCandidate string
	for {
		if info, err := os.Stat(filepath.Join(dir, Dir)); err == nil && info.IsDir() {
			return dir
		}

		// Record .env as fallback candidate, but keep walking
		if envCandidate == "" {
			if _, err := os.Stat(filepath.Join(dir, ".env")); err == nil {
				envCandidate = dir
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}

	if envCandidate != "" {
		return envCandidate
	}
	return start
}
