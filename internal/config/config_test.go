package config

import (
	"os"
	"testing"
)

func TestPort_Default(t *testing.T) {
	os.Unsetenv(EnvPort)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != DefaultPort {
		t.Errorf("default Port = %d, want %d", cfg.Port(), DefaultPort)
	}
}

func TestPort_FromEnv(t *testing.T) {
	os.Setenv(EnvPort, "9090")
	defer os.Unsetenv(EnvPort)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port())
	}
}

func TestPort_Invalid(t *testing.T) {
	for _, v := range []string{"abc", "0", "70000"} {
		os.Setenv(EnvPort, v)
		if _, err := New(); err == nil {
			t.Errorf("New() with %s=%q succeeded, want error", EnvPort, v)
		}
	}
	os.Unsetenv(EnvPort)
}

func TestLookbackHours_FromEnv(t *testing.T) {
	os.Setenv(EnvLookbackHours, "24")
	defer os.Unsetenv(EnvLookbackHours)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LookbackHours() != 24 {
		t.Errorf("LookbackHours = %d, want 24", cfg.LookbackHours())
	}
}

func TestLookbackHours_MustBePositive(t *testing.T) {
	os.Setenv(EnvLookbackHours, "0")
	defer os.Unsetenv(EnvLookbackHours)

	if _, err := New(); err == nil {
		t.Error("New() with zero lookback succeeded, want error")
	}
}

func TestLatestRetention_Defaults(t *testing.T) {
	os.Unsetenv(EnvLatestMaxAgeHours)
	os.Unsetenv(EnvLatestMaxCount)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LatestMaxAgeHours() != 0 {
		t.Errorf("default LatestMaxAgeHours = %d, want 0", cfg.LatestMaxAgeHours())
	}
	if cfg.LatestMaxCount() != DefaultLatestMaxCount {
		t.Errorf("default LatestMaxCount = %d, want %d", cfg.LatestMaxCount(), DefaultLatestMaxCount)
	}
}

func TestHeadless_FromEnv(t *testing.T) {
	os.Setenv(EnvHeadless, "true")
	defer os.Unsetenv(EnvHeadless)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Headless() {
		t.Error("Headless = false, want true")
	}
}

func TestDBPath_UnderDataDir(t *testing.T) {
	os.Setenv(EnvDataDir, "/tmp/clipvault-test")
	defer os.Unsetenv(EnvDataDir)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath() != "/tmp/clipvault-test/"+DBFilename {
		t.Errorf("DBPath = %q", cfg.DBPath())
	}
}
