package cli

// This file contains helpers shared by the commands browsing run history.

import (
	"fmt"

	"github.com/perfgo/falseshare/history"
)

// loadHistory loads the entries below dir, or below the default history
// root when dir is empty. It returns the root that was used.
func (a *App) loadHistory(dir string) (string, []history.Entry, error) {
	root := dir
	if root == "" {
		var err error
		if root, err = history.DefaultRoot(); err != nil {
			return "", nil, err
		}
	}

	entries, err := history.LoadEntries(a.logger, root)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load history: %w", err)
	}
	return root, entries, nil
}
