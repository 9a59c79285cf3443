package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kenxsak/omniflow-buisness-sub009/internal/config"
)

func TestGenerateRandomString(t *testing.T) {
	lengths := []int{8, 16, 32, 64}

	for _, length := range lengths {
		result := generateRandomString(length)
		if len(result) != length {
			t.Errorf("generateRandomString(%d) returned string of length %d", length, len(result))
		}
	}

	s1 := generateRandomString(32)
	s2 := generateRandomString(32)
	if s1 == s2 {
		t.Error("generateRandomString should generate unique strings")
	}
}

func TestGenerateConfig(t *testing.T) {
	initListen = ":9999"
	initDataDir = "/srv/campaignd"

	cfg := generateConfig("test-hash")

	checks := []string{
		`listen_addr: ":9999"`,
		`cron_secret_hash: "test-hash"`,
		`path: "/srv/campaignd/jobs.db"`,
		`path: "/srv/campaignd/sendlog.db"`,
		`max_attempts: 3`,
	}

	for _, check := range checks {
		if !strings.Contains(cfg, check) {
			t.Errorf("Generated config missing: %s", check)
		}
	}
}

func TestGenerateConfigLoads(t *testing.T) {
	t.Setenv("CRON_SECRET", "")

	initListen = ":8080"
	initDataDir = "/var/lib/campaignd"

	raw := generateConfig("$2a$10$notarealhashbutnonempty")

	path := filepath.Join(t.TempDir(), "campaignd.yaml")
	if err := os.WriteFile(path, []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("generated config must load cleanly: %v", err)
	}

	if cfg.Auth.CronSecretHash != "$2a$10$notarealhashbutnonempty" {
		t.Errorf("CronSecretHash = %q", cfg.Auth.CronSecretHash)
	}
	if cfg.Store.Path != "/var/lib/campaignd/jobs.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Runner.PollInterval != 0 {
		t.Errorf("PollInterval = %v, want 0", cfg.Runner.PollInterval)
	}
	if cfg.Retention.MaxAge != 720*time.Hour {
		t.Errorf("Retention.MaxAge = %v", cfg.Retention.MaxAge)
	}
	if cfg.Channels.WhatsApp.BatchDelay != time.Second {
		t.Errorf("WhatsApp.BatchDelay = %v", cfg.Channels.WhatsApp.BatchDelay)
	}
}

func TestRunInitForceGuard(t *testing.T) {
	tmpDir := t.TempDir()
	initOutput = filepath.Join(tmpDir, "campaignd.yaml")
	initDataDir = filepath.Join(tmpDir, "data")
	initListen = ":8080"
	initSecret = "test-secret"
	initForce = false

	if err := os.WriteFile(initOutput, []byte("keep"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := runInit(nil, nil); err == nil {
		t.Fatal("init must refuse to overwrite without --force")
	}

	data, err := os.ReadFile(initOutput)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "keep" {
		t.Error("existing config was modified")
	}

	initForce = true
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("init with --force: %v", err)
	}

	data, err = os.ReadFile(initOutput)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "cron_secret_hash") {
		t.Error("overwritten config missing cron_secret_hash")
	}
}
