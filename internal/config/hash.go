package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumManifest records expected BLAKE3 hashes of configuration files.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock computes the hash of the config file and writes the .checksums
// manifest next to it, authorizing the current state.
func Lock(configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return err
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Restrictive permissions: the manifest holds expected hashes.
	if err := os.WriteFile(checksumPath(absPath), data, 0600); err != nil {
		return fmt.Errorf("failed to write checksums: %w", err)
	}
	return nil
}

// VerifyIntegrity checks the config file against its .checksums manifest.
// A missing manifest is reported as a warning string; a hash mismatch is an
// error.
func VerifyIntegrity(configPath string) (warning string, err error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path: %w", err)
	}

	manifest, err := loadChecksums(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("no checksums manifest found at %s; run 'hookgate lock' to enable integrity verification", checksumPath(absPath)), nil
		}
		return "", err
	}

	expected, ok := manifest.Hashes[filepath.Base(absPath)]
	if !ok {
		return "", fmt.Errorf("file %s not in checksums manifest", filepath.Base(absPath))
	}

	actual, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return "", err
	}
	if actual != expected {
		return "", fmt.Errorf("hash mismatch for %s: expected %s, got %s; run 'hookgate lock' if the change is intended",
			filepath.Base(absPath), expected, actual)
	}
	return "", nil
}

func checksumPath(absConfigPath string) string {
	return filepath.Join(filepath.Dir(absConfigPath), ".checksums")
}

func loadChecksums(absConfigPath string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(checksumPath(absConfigPath))
	if err != nil {
		return nil, err
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}
