package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPort_Invalid(t *testing.T) {
	t.Setenv("TEST_PORT", "99999")
	if _, err := Port("TEST_PORT", "8080"); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestDurationAndBool(t *testing.T) {
	t.Setenv("TEST_TIMEOUT", "90s")
	d, err := Duration("TEST_TIMEOUT", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != 90*time.Second {
		t.Fatalf("expected 90s, got %s", d)
	}

	t.Setenv("TEST_FLAG", "yes")
	if !Bool("TEST_FLAG", false) {
		t.Fatalf("expected TEST_FLAG to be true")
	}
	if !Bool("TEST_FLAG_UNSET", true) {
		t.Fatalf("expected fallback for unset flag")
	}
}

func TestLocation(t *testing.T) {
	t.Setenv("TEST_TZ", "Not/AZone")
	if _, err := Location("TEST_TZ", "UTC"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
	loc, err := Location("TEST_TZ_UNSET", "UTC")
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC fallback, got %v (%v)", loc, err)
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("DOTENV_A=from-file\nDOTENV_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DOTENV_A", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("DOTENV_B") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("DOTENV_A"); got != "from-env" {
		t.Fatalf("expected env to win, got %q", got)
	}
	if got := os.Getenv("DOTENV_B"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}
