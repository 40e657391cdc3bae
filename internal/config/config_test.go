package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets interface.
type mockSecrets struct {
	values map[string]string
}

func (m mockSecrets) Get(service, account string) (string, error) {
	if v, ok := m.values[account]; ok {
		return v, nil
	}
	return "", errors.New("not found")
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// clearEnv blanks every CLINICCHAT_* variable the loader reads.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections != 64 {
		t.Errorf("Server.MaxConnections = %d, want 64", cfg.Server.MaxConnections)
	}
	if cfg.Storage.DataDir != "/tmp/xdg-data/clinicchat" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.UploadDir != "/tmp/xdg-data/clinicchat/uploads" {
		t.Errorf("Storage.UploadDir = %q", cfg.Storage.UploadDir)
	}
	if cfg.LLM.Backend != "openrouter" {
		t.Errorf("LLM.Backend = %q, want openrouter", cfg.LLM.Backend)
	}
	if cfg.Pipeline.Chunks != 10 || cfg.Pipeline.ChunkDelay != 500*time.Millisecond {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.SampleRows != 500 || cfg.Pipeline.HistoryWindow != 5 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("Session.TTL = %v", cfg.Session.TTL)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Server.APIToken != "" {
		t.Errorf("APIToken = %q, want empty", cfg.Server.APIToken)
	}
}

func TestFileValues(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  "server.port": 8080,
  "storage.data_dir": "/srv/clinic",
  "storage.upload_dir": "/srv/uploads",
  "llm.backend": "ollama",
  "llm.model": "qwen2.5",
  "pipeline.chunks": 3,
  "pipeline.chunk_delay": "50ms",
  "session.ttl": "2h",
  "llm.api_key": "ignored-in-file"
}`)

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Storage.DataDir != "/srv/clinic" || cfg.Storage.UploadDir != "/srv/uploads" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.LLM.Backend != "ollama" || cfg.LLM.Model != "qwen2.5" {
		t.Errorf("LLM = %+v", cfg.LLM)
	}
	if cfg.Pipeline.Chunks != 3 || cfg.Pipeline.ChunkDelay != 50*time.Millisecond {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Errorf("Session.TTL = %v", cfg.Session.TTL)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("secret read from config file: %q", cfg.LLM.APIKey)
	}
}

func TestInvalidIntInFile(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(writeTempConfig(t, `{"server.port": 80.5}`), mockSecrets{})
	if err == nil {
		t.Fatal("expected error for fractional port")
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLINICCHAT_SERVER_PORT", "9000")
	t.Setenv("CLINICCHAT_LLM_API_KEY", "env-key")
	t.Setenv("CLINICCHAT_PIPELINE_CHUNK_DELAY", "1s")
	t.Setenv("CLINICCHAT_PIPELINE_CHUNKS", "not-a-number")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 8080}`), mockSecrets{values: map[string]string{"llm.api_key": "file-secret"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
	if cfg.Pipeline.ChunkDelay != time.Second {
		t.Errorf("ChunkDelay = %v", cfg.Pipeline.ChunkDelay)
	}
	if cfg.Pipeline.Chunks != 10 {
		t.Errorf("Chunks = %d, want default after bad env value", cfg.Pipeline.Chunks)
	}
}

func TestSecretsFallback(t *testing.T) {
	clearEnv(t)
	sec := mockSecrets{values: map[string]string{
		"llm.api_key":      "stored-key",
		"server.api_token": "stored-token",
	}}

	cfg, err := loadWith(writeTempConfig(t, `{}`), sec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "stored-key" {
		t.Errorf("LLM.APIKey = %q", cfg.LLM.APIKey)
	}
	if cfg.Server.APIToken != "stored-token" {
		t.Errorf("Server.APIToken = %q", cfg.Server.APIToken)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("Validate() = %v, want missing key error", err)
	}

	cfg.LLM.APIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	cfg = defaults()
	cfg.LLM.Backend = "ollama"
	if err := cfg.Validate(); err != nil {
		t.Errorf("ollama without key: %v", err)
	}

	cfg.LLM.Backend = "bard"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}

	cfg = defaults()
	cfg.LLM.Backend = "ollama"
	cfg.Server.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range port")
	}
}

func TestSetKey(t *testing.T) {
	dir := t.TempDir()
	b := newFileBackend(filepath.Join(dir, "config.json"))
	sec := secretsFile{path: filepath.Join(dir, "secrets.json")}

	if err := setKey(b, sec, "server.port", "7000"); err != nil {
		t.Fatalf("set port: %v", err)
	}
	if err := setKey(b, sec, "session.ttl", "90m"); err != nil {
		t.Fatalf("set ttl: %v", err)
	}
	if err := setKey(b, sec, "llm.api_key", "sekret"); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if err := setKey(b, sec, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, sec, "session.ttl", "forever"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, sec, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(b.path), sec)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 7000 || cfg.Session.TTL != 90*time.Minute || cfg.LLM.APIKey != "sekret" {
		t.Errorf("reloaded = %+v", cfg)
	}

	info, err := os.Stat(sec.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "super-secret"

	seen := map[string]string{}
	for _, ki := range ShowAll(cfg) {
		seen[ki.Key] = ki.Value
		if strings.Contains(ki.Value, "super-secret") {
			t.Errorf("%s leaks secret", ki.Key)
		}
	}
	if seen["llm.api_key"] != "(set)" {
		t.Errorf("llm.api_key = %q, want (set)", seen["llm.api_key"])
	}
	if seen["server.api_token"] != "(unset)" {
		t.Errorf("server.api_token = %q, want (unset)", seen["server.api_token"])
	}
	if seen["pipeline.chunk_delay"] != "500ms" {
		t.Errorf("pipeline.chunk_delay = %q", seen["pipeline.chunk_delay"])
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys() = %d keys, want %d", len(ValidKeys()), len(specs))
	}
}
