// Package project detects what kind of project lives in a directory
// and which commands run it. Detection is file-based: Cargo.toml,
// package.json (with package-manager detection from lock files), or
// main.py.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// Detection errors.
var (
	// ErrNoProject means the directory matched no known project layout.
	ErrNoProject = errors.New("no recognized project")

	// ErrNoDevCommand means the project has no runnable dev command.
	ErrNoDevCommand = errors.New("no dev command for project")
)

// Kind identifies a detected project type.
type Kind string

// Known project kinds.
const (
	KindRust   Kind = "rust"
	KindNode   Kind = "node"
	KindPython Kind = "python"
)

// Commands holds the command lines detected for a project directory.
// Empty fields mean the project defines no such command.
type Commands struct {
	Kind  Kind
	Dev   string
	Build string
	Test  string
}

// Detect inspects dir and returns its project kind and commands.
// Returns ErrNoProject if nothing is recognized.
func Detect(dir string) (Commands, error) {
	if exists(filepath.Join(dir, "Cargo.toml")) {
		return Commands{
			Kind:  KindRust,
			Dev:   "cargo run",
			Build: "cargo build",
			Test:  "cargo test",
		}, nil
	}

	if pkgPath := filepath.Join(dir, "package.json"); exists(pkgPath) {
		return detectNode(dir, pkgPath)
	}

	if exists(filepath.Join(dir, "main.py")) {
		return Commands{
			Kind: KindPython,
			Dev:  "python main.py",
		}, nil
	}

	return Commands{}, fmt.Errorf("%s: %w", dir, ErrNoProject)
}

// DevCommand returns the command that runs the project's dev server.
func DevCommand(dir string) (string, error) {
	cmds, err := Detect(dir)
	if err != nil {
		return "", err
	}
	if cmds.Dev == "" {
		return "", fmt.Errorf("%s: %w", dir, ErrNoDevCommand)
	}
	return cmds.Dev, nil
}

// detectNode builds node commands from package.json scripts, run
// through the package manager the lock files indicate.
func detectNode(dir, pkgPath string) (Commands, error) {
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return Commands{}, fmt.Errorf("read package.json: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return Commands{}, fmt.Errorf("parse %s: invalid json", pkgPath)
	}

	pm := detectPackageManager(dir)
	cmds := Commands{Kind: KindNode}

	if gjson.GetBytes(data, "scripts.dev").Exists() {
		cmds.Dev = pm + " run dev"
	} else if gjson.GetBytes(data, "scripts.start").Exists() {
		cmds.Dev = pm + " start"
	}
	if gjson.GetBytes(data, "scripts.build").Exists() {
		cmds.Build = pm + " run build"
	}
	if gjson.GetBytes(data, "scripts.test").Exists() {
		cmds.Test = pm + " test"
	}

	return cmds, nil
}

// detectPackageManager picks the package manager from lock files, in
// order of preference, defaulting to npm.
func detectPackageManager(dir string) string {
	lockFiles := []struct {
		file    string
		manager string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"bun.lockb", "bun"},
		{"package-lock.json", "npm"},
	}

	for _, lf := range lockFiles {
		if exists(filepath.Join(dir, lf.file)) {
			return lf.manager
		}
	}
	return "npm"
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
