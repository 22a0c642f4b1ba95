package exec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// CreateManifest creates a run manifest for audit purposes
func CreateManifest(step Step, result *Result) *RunManifest {
	return &RunManifest{
		Timestamp:    time.Now().UTC(),
		StepID:       step.ID,
		Runner:       step.Runner,
		Image:        step.Image,
		Command:      step.Cmd,
		Env:          step.Env,
		ExitCode:     result.ExitCode,
		TimedOut:     result.TimedOut,
		Duration:     result.Duration.String(),
		InputHashes:  make(map[string]string),
		OutputHashes: make(map[string]string),
	}
}

// SaveManifest writes a run manifest into dir and returns its path.
func SaveManifest(manifest *RunManifest, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create manifest directory: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.json",
		manifest.Timestamp.Format("20060102_150405.000"),
		nameSanitizer.ReplaceAllString(manifest.StepID, "-"))
	path := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

// LoadManifest reads a manifest written by SaveManifest.
func LoadManifest(path string) (*RunManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m RunManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// HashFile computes the BLAKE3-256 hash of a file, hex encoded.
func HashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// AddInputHash adds an input file hash to the manifest
func (m *RunManifest) AddInputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	m.InputHashes[name] = hash
	return nil
}

// AddOutputHash adds an output file hash to the manifest
func (m *RunManifest) AddOutputHash(name, path string) error {
	hash, err := HashFile(path)
	if err != nil {
		return err
	}
	m.OutputHashes[name] = hash
	return nil
}
