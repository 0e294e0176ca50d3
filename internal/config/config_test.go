package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("LANCAST_TEST_STR", "hello")
	if got := GetEnv("LANCAST_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("GetEnv set: got %q", got)
	}
	if got := GetEnv("LANCAST_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv unset: got %q", got)
	}
	t.Setenv("LANCAST_TEST_EMPTY", "")
	if got := GetEnv("LANCAST_TEST_EMPTY", "fallback"); got != "fallback" {
		t.Errorf("GetEnv empty: got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("LANCAST_TEST_INT", "7878")
	if got := GetEnvInt("LANCAST_TEST_INT", 1); got != 7878 {
		t.Errorf("GetEnvInt set: got %d", got)
	}
	if got := GetEnvInt("LANCAST_TEST_INT_UNSET", 42); got != 42 {
		t.Errorf("GetEnvInt unset: got %d", got)
	}
	t.Setenv("LANCAST_TEST_INT_BAD", "not-a-number")
	if got := GetEnvInt("LANCAST_TEST_INT_BAD", 42); got != 42 {
		t.Errorf("GetEnvInt invalid: got %d", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LANCAST_TEST_FILE=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LANCAST_TEST_FILE", "") // registers cleanup, Load overwrites nothing set
	os.Unsetenv("LANCAST_TEST_FILE")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := os.Getenv("LANCAST_TEST_FILE"); got != "from-file" {
		t.Errorf("loaded value = %q, want %q", got, "from-file")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "no-such.env")); err == nil {
		t.Error("Load on a missing file should return an error")
	}
}
