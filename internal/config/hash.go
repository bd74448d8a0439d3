package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrIntegrity marks a pinned agent file whose content no longer matches its hash.
var ErrIntegrity = errors.New("agent integrity check failed")

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFileHash verifies a file against an expected BLAKE3 hash.
func VerifyFileHash(filePath, expectedHash string) error {
	actualHash, err := ComputeBlake3Hash(filePath)
	if err != nil {
		return fmt.Errorf("failed to compute hash: %w", err)
	}

	if !strings.EqualFold(actualHash, strings.TrimSpace(expectedHash)) {
		return fmt.Errorf("%w: hash mismatch for %s: expected %s, got %s",
			ErrIntegrity, filepath.Base(filePath), expectedHash, actualHash)
	}
	return nil
}

// ResolveAgentPath returns the absolute path of the agent command, searching PATH
// for bare names the way exec.Command does.
func ResolveAgentPath(cfg AgentConfig) (string, error) {
	cmd := cfg.Command
	if !strings.ContainsRune(cmd, filepath.Separator) {
		return exec.LookPath(cmd)
	}
	if !filepath.IsAbs(cmd) && cfg.WorkDir != "" {
		cmd = filepath.Join(cfg.WorkDir, cmd)
	}
	return filepath.Abs(cmd)
}

// IntegrityFile returns the file pinned by agent.integrity: the explicit
// integrity.file when set, otherwise the resolved agent command.
func IntegrityFile(cfg AgentConfig) (string, error) {
	if f := cfg.Integrity.File; f != "" {
		if !filepath.IsAbs(f) && cfg.WorkDir != "" {
			f = filepath.Join(cfg.WorkDir, f)
		}
		return filepath.Abs(f)
	}
	return ResolveAgentPath(cfg)
}

// VerifyAgentIntegrity checks the pinned agent file. It is a no-op when no hash
// is configured.
func VerifyAgentIntegrity(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.Integrity.Blake3) == "" {
		return nil
	}
	path, err := IntegrityFile(cfg)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve agent file: %v", ErrIntegrity, err)
	}
	return VerifyFileHash(path, cfg.Integrity.Blake3)
}
