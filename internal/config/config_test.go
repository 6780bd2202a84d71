package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"taskledger/internal/blob"
	"taskledger/internal/ledger"
	"taskledger/pkg/domain"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultsWithoutFiles(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.Driver != ledger.DriverSQLite || cfg.Metrics != MetricsNone || cfg.Tracing != TracingNone {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Export.Driver != blob.DriverFilesystem || cfg.Export.FSRoot != "exports" {
		t.Fatalf("unexpected export defaults %+v", cfg.Export)
	}
	program, err := cfg.DomainProgram()
	if err != nil {
		t.Fatalf("program: %v", err)
	}
	if program.ID != domain.DefaultProgram().ID {
		t.Fatalf("unexpected program id %s", program.ID)
	}
}

func TestLoadYAMLThenDotenvThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "taskledger.yaml", `
ledger:
  driver: blob
  blob:
    driver: s3
    s3:
      bucket: from-yaml
      region: eu-west-1
log:
  level: debug
  format: json
metrics: prometheus
tracing: otel
`)
	writeFile(t, dir, ".env", "TASKLEDGER_S3_BUCKET=from-dotenv\nTASKLEDGER_LOG_JOURNAL=true\n")
	t.Setenv("TASKLEDGER_S3_REGION", "us-east-2")
	t.Setenv("TASKLEDGER_S3_PATH_STYLE", "1")
	// godotenv never overrides variables that are already set.
	t.Setenv("TASKLEDGER_LOG_JOURNAL", "false")
	t.Cleanup(func() { _ = os.Unsetenv("TASKLEDGER_S3_BUCKET") })

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ledger.Driver != ledger.DriverBlob || cfg.Ledger.Blob.Driver != blob.DriverS3 {
		t.Fatalf("unexpected drivers %+v", cfg.Ledger)
	}
	s3 := cfg.Ledger.Blob.S3
	if s3.Bucket != "from-dotenv" || s3.Region != "us-east-2" || !s3.PathStyle {
		t.Fatalf("unexpected s3 config %+v", s3)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" || cfg.Log.Journal {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Metrics != MetricsPrometheus || cfg.Tracing != TracingOTel {
		t.Fatalf("unexpected exporters %s/%s", cfg.Metrics, cfg.Tracing)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if _, err := Load(filepath.Join(dir, "missing.yaml"), ""); err == nil {
		t.Fatalf("expected missing file error")
	}
	if _, err := Load("", filepath.Join(dir, "missing.env")); err == nil {
		t.Fatalf("expected explicit dotenv error")
	}
	bad := writeFile(t, dir, "bad.yaml", "ledger: [")
	if _, err := Load(bad, ""); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}

	t.Setenv("TASKLEDGER_S3_PATH_STYLE", "maybe")
	if _, err := Load("", ""); err == nil || !strings.Contains(err.Error(), "TASKLEDGER_S3_PATH_STYLE") {
		t.Fatalf("expected bool parse error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Metrics = "statsd"
	cfg.Tracing = "zipkin"
	cfg.Program.ID = "not-base58-0OIl"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"statsd", "zipkin", "program id"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}

	cfg = Default()
	cfg.Program.TaskTag = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected empty tag to fail")
	}
}

func TestEnvKey(t *testing.T) {
	if EnvKey("KEYPAIR") != "TASKLEDGER_KEYPAIR" {
		t.Fatalf("unexpected key %s", EnvKey("KEYPAIR"))
	}
	t.Setenv("TASKLEDGER_KEYPAIR", "/tmp/k.json")
	if GetEnvOrDefault("KEYPAIR", "x") != "/tmp/k.json" || GetEnvOrDefault("UNSET_KEY", "x") != "x" {
		t.Fatalf("unexpected lookups")
	}
}
