package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veris-mcp.yaml")

	root := newRootCmd()
	root.SetArgs([]string{"init", "--config", path})
	var out bytes.Buffer
	root.SetOut(&out)

	if err := root.Execute(); err != nil {
		t.Fatalf("init: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if !strings.Contains(string(data), "api_url: http://localhost:8000") {
		t.Fatalf("written config missing expected default, got:\n%s", data)
	}
}

func TestInitRefusesToOverwriteWithoutForce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veris-mcp.yaml")
	if err := os.WriteFile(path, []byte("existing: true\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"init", "--config", path})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	if err := root.Execute(); err == nil {
		t.Fatal("expected an error when the config file already exists")
	}

	data, _ := os.ReadFile(path)
	if string(data) != "existing: true\n" {
		t.Fatalf("existing config was overwritten: %q", data)
	}
}

func TestInitForceOverwrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "veris-mcp.yaml")
	if err := os.WriteFile(path, []byte("existing: true\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"init", "--config", path, "--force"})
	root.SetOut(&bytes.Buffer{})

	if err := root.Execute(); err != nil {
		t.Fatalf("init --force: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if strings.Contains(string(data), "existing: true") {
		t.Fatal("expected --force to overwrite the existing file")
	}
}

func TestServeFailsFastOnMissingAPIURL(t *testing.T) {
	// A config file with an empty api_url fails config.Load's validation,
	// which serve must surface as a non-nil error (spec.md §6 exit code 1),
	// not a panic or a silent hang on stdin.
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("api_url: \"\"\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", path})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	if err := root.Execute(); err == nil {
		t.Fatal("expected serve to fail on an invalid config")
	}
}
