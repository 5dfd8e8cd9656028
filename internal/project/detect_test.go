package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestDetect_Rust(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\nname = \"app\"\n")

	cmds, err := Detect(dir)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if cmds.Kind != KindRust {
		t.Errorf("expected rust, got %v", cmds.Kind)
	}
	if cmds.Dev != "cargo run" || cmds.Build != "cargo build" || cmds.Test != "cargo test" {
		t.Errorf("unexpected commands %+v", cmds)
	}
}

func TestDetect_NodeScripts(t *testing.T) {
	tests := []struct {
		name    string
		pkg     string
		lock    string
		wantDev string
	}{
		{
			name:    "dev script with npm",
			pkg:     `{"name":"app","scripts":{"dev":"vite","build":"vite build"}}`,
			wantDev: "npm run dev",
		},
		{
			name:    "dev script with pnpm lock",
			pkg:     `{"scripts":{"dev":"next dev"}}`,
			lock:    "pnpm-lock.yaml",
			wantDev: "pnpm run dev",
		},
		{
			name:    "dev script with yarn lock",
			pkg:     `{"scripts":{"dev":"next dev"}}`,
			lock:    "yarn.lock",
			wantDev: "yarn run dev",
		},
		{
			name:    "start fallback",
			pkg:     `{"scripts":{"start":"node server.js"}}`,
			lock:    "package-lock.json",
			wantDev: "npm start",
		},
		{
			name:    "no runnable script",
			pkg:     `{"scripts":{"lint":"eslint ."}}`,
			wantDev: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "package.json", tt.pkg)
			if tt.lock != "" {
				writeFile(t, dir, tt.lock, "")
			}

			cmds, err := Detect(dir)
			if err != nil {
				t.Fatalf("Detect() failed: %v", err)
			}
			if cmds.Kind != KindNode {
				t.Errorf("expected node, got %v", cmds.Kind)
			}
			if cmds.Dev != tt.wantDev {
				t.Errorf("expected dev %q, got %q", tt.wantDev, cmds.Dev)
			}
		})
	}
}

func TestDetect_NodeBuildAndTest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"dev":"vite","build":"vite build","test":"vitest"}}`)

	cmds, err := Detect(dir)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if cmds.Build != "npm run build" {
		t.Errorf("expected npm run build, got %q", cmds.Build)
	}
	if cmds.Test != "npm test" {
		t.Errorf("expected npm test, got %q", cmds.Test)
	}
}

func TestDetect_NodeInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", "{not json")

	if _, err := Detect(dir); err == nil {
		t.Error("expected error for invalid package.json")
	}
}

func TestDetect_Python(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "main.py", "print('hi')\n")

	cmds, err := Detect(dir)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if cmds.Kind != KindPython || cmds.Dev != "python main.py" {
		t.Errorf("unexpected commands %+v", cmds)
	}
}

func TestDetect_RustWinsOverNode(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Cargo.toml", "[package]\n")
	writeFile(t, dir, "package.json", `{"scripts":{"dev":"vite"}}`)

	cmds, err := Detect(dir)
	if err != nil {
		t.Fatalf("Detect() failed: %v", err)
	}
	if cmds.Kind != KindRust {
		t.Errorf("expected rust to win, got %v", cmds.Kind)
	}
}

func TestDetect_NoProject(t *testing.T) {
	_, err := Detect(t.TempDir())
	if !errors.Is(err, ErrNoProject) {
		t.Errorf("expected ErrNoProject, got %v", err)
	}
}

func TestDevCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"dev":"vite"}}`)

	cmd, err := DevCommand(dir)
	if err != nil {
		t.Fatalf("DevCommand() failed: %v", err)
	}
	if cmd != "npm run dev" {
		t.Errorf("expected npm run dev, got %q", cmd)
	}
}

func TestDevCommand_NoDevScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"lint":"eslint ."}}`)

	_, err := DevCommand(dir)
	if !errors.Is(err, ErrNoDevCommand) {
		t.Errorf("expected ErrNoDevCommand, got %v", err)
	}
}
