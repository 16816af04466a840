package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to config files.
const ChecksumFile = ".checksums"

// ErrNoChecksums is returned when a directory has no manifest.
var ErrNoChecksums = errors.New("checksums file not found")

// ChecksumManifest maps config file basenames to BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockReport lists the manifests written by Lock.
type LockReport struct {
	Manifests []string
	Files     map[string]string // absolute path -> hash
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

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if actualHash != expectedHash {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s",
			filepath.Base(filePath), expectedHash, actualHash)
	}

	return nil
}

// Lock writes a .checksums manifest into every directory holding one of
// files. Existing manifests are replaced.
func Lock(files []string) (*LockReport, error) {
	report := &LockReport{Files: make(map[string]string, len(files))}

	byDir := groupByDir(files)
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		manifest := ChecksumManifest{
			Version:     1,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
			Hashes:      make(map[string]string),
		}
		for _, path := range byDir[dir] {
			hash, err := ComputeBlake3Hash(path)
			if err != nil {
				return nil, fmt.Errorf("failed to hash %s: %w", path, err)
			}
			manifest.Hashes[filepath.Base(path)] = hash
			report.Files[path] = hash
		}

		data, err := yaml.Marshal(manifest)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal checksums: %w", err)
		}
		checksumPath := filepath.Join(dir, ChecksumFile)
		if err := os.WriteFile(checksumPath, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write checksums: %w", err)
		}
		report.Manifests = append(report.Manifests, checksumPath)
	}
	return report, nil
}

// LoadChecksums reads the .checksums file from a config directory.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s (run 'hookd config lock')", ErrNoChecksums, configDir)
		}
		return nil, fmt.Errorf("failed to read checksums: %w", err)
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

// verifyAllConfigHashes checks every file against the manifest in its
// directory. Directories without a manifest are not verified.
func verifyAllConfigHashes(paths []string) error {
	for dir, files := range groupByDir(paths) {
		checksums, err := LoadChecksums(dir)
		if errors.Is(err, ErrNoChecksums) {
			continue
		}
		if err != nil {
			return err
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: hookd config lock", basename, dir)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: hookd config lock", path, err)
			}
		}
	}
	return nil
}

func groupByDir(paths []string) map[string][]string {
	out := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		out[dir] = append(out[dir], path)
	}
	return out
}
