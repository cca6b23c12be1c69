package history

// This file contains shared history utilities for recording, loading and
// selecting benchmark run history.

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/perfgo/falseshare/model"
	"github.com/rs/zerolog"
)

const (
	// DirName is the history directory created at the repository root.
	DirName = ".falseshare"
	// FileName is the name of the record inside every run directory.
	FileName = "history.json"
	// ProfileFileName is the pprof profile written next to a record on demand.
	ProfileFileName = "profile.pb.gz"

	runsDir = "history"
)

type Entry struct {
	History  model.History
	FullPath string
}

// DefaultRoot returns the .falseshare directory at the git repository root,
// or a falseshare directory in the user cache when not inside a repository.
func DefaultRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	if output, err := cmd.Output(); err == nil {
		return filepath.Join(strings.TrimSpace(string(output)), DirName), nil
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to find a history directory: %w", err)
	}
	return filepath.Join(cacheDir, "falseshare"), nil
}

// NewID returns a random 16-byte run ID, hex encoded.
func NewID() (string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}
	return hex.EncodeToString(idBytes), nil
}

// Record writes h to <root>/history/<timestamp>-<id>/history.json and returns
// the run directory.
func Record(root string, h *model.History) (string, error) {
	shortID := h.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	runName := fmt.Sprintf("%s-%s", h.Timestamp.Format("20060102-150405"), shortID)
	runDir := filepath.Join(root, runsDir, runName)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := sonic.ConfigStd.MarshalIndent(h, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}

	historyPath := filepath.Join(runDir, FileName)
	if err := os.WriteFile(historyPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write history.json: %w", err)
	}

	return runDir, nil
}

// LoadEntries loads all history entries below root, newest first. A missing
// root yields no entries.
func LoadEntries(logger zerolog.Logger, root string) ([]Entry, error) {
	var entries []Entry

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			historyPath := filepath.Join(path, FileName)
			if _, err := os.Stat(historyPath); err == nil {
				history, err := parseHistoryJSON(historyPath)
				if err != nil {
					logger.Warn().Err(err).Str("path", historyPath).Msg("Failed to parse history.json")
					return nil
				}

				entries = append(entries, Entry{
					History:  history,
					FullPath: path,
				})
			}
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk history directory: %w", err)
	}

	// Sort by timestamp (newest first)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].History.Timestamp.After(entries[j].History.Timestamp)
	})

	return entries, nil
}

// Find selects an entry from entries sorted newest first. ref is 0 for the
// latest run, -N for the run N before it, or a hex ID prefix.
func Find(entries []Entry, ref string) (*Entry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no history entries found")
	}

	if parsed, err := strconv.ParseInt(ref, 10, 64); err == nil {
		if parsed > 0 {
			return nil, fmt.Errorf("invalid index: %s (use 0 for last, -1 for second-to-last, -2 for third-to-last, etc.)", ref)
		}
		index := int(-parsed)
		if index >= len(entries) {
			return nil, fmt.Errorf("index %s out of range (only %d history entries)", ref, len(entries))
		}
		return &entries[index], nil
	}

	hexID := strings.ToLower(ref)
	for i := range entries {
		if strings.HasPrefix(strings.ToLower(entries[i].History.ID), hexID) {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("no history entry found matching ID: %s", ref)
}

// parseHistoryJSON parses a history.json file.
func parseHistoryJSON(historyPath string) (model.History, error) {
	data, err := os.ReadFile(historyPath)
	if err != nil {
		return model.History{}, err
	}

	var history model.History
	if err := sonic.ConfigStd.Unmarshal(data, &history); err != nil {
		return model.History{}, err
	}

	return history, nil
}
