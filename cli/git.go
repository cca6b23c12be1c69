package cli

// This file contains Git integration utilities for tagging recorded runs
// with the revision they were measured at.

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/perfgo/falseshare/model"
)

func gitOutput(args ...string) (string, error) {
	output, err := exec.Command("git", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

func (a *App) gitInfo() (*model.Git, error) {
	commit, err := gitOutput("rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get git commit: %w", err)
	}

	branch, err := gitOutput("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get git branch: %w", err)
	}

	return &model.Git{Commit: commit, Branch: branch}, nil
}
