package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "screener dev") {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
store:
  backend: memory
profiles:
  scalp: {model: fixed_pct, target_pct: 3, stop_pct: 2}
strategies:
  - id: bsjp
    kind: filter
    direction: BUY
    profile: scalp
    filters:
      min_price: 50
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	envFile := filepath.Join(dir, "none.env")

	out, err := execute(t, "config", "validate", "--config", path, "--env", envFile)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok (1 strategies, store memory)") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "config", "validate", "--config", filepath.Join(dir, "missing.yaml"), "--env", envFile); err == nil {
		t.Error("missing config file should fail")
	}
}

func TestScreen_NeedsStrategy(t *testing.T) {
	if _, err := execute(t, "screen"); err == nil {
		t.Error("screen without a strategy argument should fail")
	}
}
