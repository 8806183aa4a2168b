package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TELEGRAM_API_ID", "TELEGRAM_API_HASH", "TELEGRAM_PHONE", "TELEGRAM_CHANNELS",
		"WORKER_COUNT", "MAX_FILE_SIZE_MB", "STORAGE_PATH", "DATABASE_URL",
		"IOC_DOMAINS", "IOC_EMAILS", "IOC_IPV4_CIDRS",
		"DROP_DIR", "DROP_POLL_INTERVAL", "SCRATCH_MAX_AGE", "HEALTH_PORT", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func setTelegramEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_API_ID", "12345")
	t.Setenv("TELEGRAM_API_HASH", "abcdef")
	t.Setenv("TELEGRAM_PHONE", "+15551234567")
	t.Setenv("TELEGRAM_CHANNELS", "leaks_one, leaks_two")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setTelegramEnv(t)

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", s.WorkerCount)
	}
	if s.MaxFileSizeMB != 100 {
		t.Errorf("MaxFileSizeMB = %d, want 100", s.MaxFileSizeMB)
	}
	if s.HealthPort != 8080 {
		t.Errorf("HealthPort = %d, want 8080", s.HealthPort)
	}
	if s.ScratchMaxAge != time.Hour {
		t.Errorf("ScratchMaxAge = %v, want 1h", s.ScratchMaxAge)
	}
	if got := s.TelegramChannels; len(got) != 2 || got[0] != "leaks_one" || got[1] != "leaks_two" {
		t.Errorf("TelegramChannels = %v", got)
	}
	if s.MaxFileSizeBytes() != 100*1024*1024 {
		t.Errorf("MaxFileSizeBytes = %d", s.MaxFileSizeBytes())
	}
	if s.QueueCapacity() != 12 {
		t.Errorf("QueueCapacity = %d, want 12", s.QueueCapacity())
	}
}

func TestMissingTelegramCredentials(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !strings.Contains(err.Error(), "TELEGRAM_API_ID") {
		t.Fatalf("err = %v", err)
	}
}

func TestDropOnlyModeSkipsTelegramValidation(t *testing.T) {
	clearEnv(t)
	t.Setenv("DROP_DIR", t.TempDir())

	s, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.TelegramAPIID != 0 {
		t.Errorf("TelegramAPIID = %d", s.TelegramAPIID)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	setTelegramEnv(t)

	path := filepath.Join(t.TempDir(), "leakwatch.yaml")
	content := "worker_count: 2\nmax_file_size_mb: 50\nioc_domains: corp.example,other.example\nscratch_max_age: 30m\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("WORKER_COUNT", "8")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.WorkerCount != 8 {
		t.Errorf("WorkerCount = %d, want env override 8", s.WorkerCount)
	}
	if s.MaxFileSizeMB != 50 {
		t.Errorf("MaxFileSizeMB = %d, want file value 50", s.MaxFileSizeMB)
	}
	if len(s.IOCDomains) != 2 || s.IOCDomains[0] != "corp.example" {
		t.Errorf("IOCDomains = %v", s.IOCDomains)
	}
	if s.ScratchMaxAge != 30*time.Minute {
		t.Errorf("ScratchMaxAge = %v", s.ScratchMaxAge)
	}
}

func TestInvalidValues(t *testing.T) {
	clearEnv(t)
	setTelegramEnv(t)

	t.Setenv("WORKER_COUNT", "0")
	if _, err := Load(""); err == nil {
		t.Error("expected error for zero workers")
	}

	t.Setenv("WORKER_COUNT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric worker count")
	}

	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("SCRATCH_MAX_AGE", "soon")
	if _, err := Load(""); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestMissingConfigFile(t *testing.T) {
	clearEnv(t)
	setTelegramEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
