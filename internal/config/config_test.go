package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.ModelStore.Backend != StoreMemory {
		t.Errorf("Backend = %s, want memory", cfg.ModelStore.Backend)
	}
	if cfg.Engine.Threshold != 2.5 || cfg.Engine.Contamination != 0.1 || cfg.Engine.Seed != 42 {
		t.Errorf("unexpected engine defaults %+v", cfg.Engine)
	}
	if cfg.Queue.Backoff != 5*time.Second {
		t.Errorf("Backoff = %s", cfg.Queue.Backoff)
	}
	if cfg.Addr() != ":8080" {
		t.Errorf("Addr = %s", cfg.Addr())
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("ANALYTICS_SERVER_PORT", "9090")
	t.Setenv("ANALYTICS_ENGINE_THRESHOLD", "3")
	t.Setenv("ANALYTICS_SCHEDULER_ORGANIZATIONS", "org-1,org-2")
	t.Setenv("ANALYTICS_QUEUE_BACKOFF", "250ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Engine.Threshold != 3 {
		t.Errorf("Threshold = %v, want 3", cfg.Engine.Threshold)
	}
	if len(cfg.Scheduler.Organizations) != 2 || cfg.Scheduler.Organizations[1] != "org-2" {
		t.Errorf("Organizations = %v", cfg.Scheduler.Organizations)
	}
	if cfg.Queue.Backoff != 250*time.Millisecond {
		t.Errorf("Backoff = %s", cfg.Queue.Backoff)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.yaml")
	content := `
gcp:
  project_id: finance-prod
model_store:
  backend: bigquery
engine:
  clusters: 7
scheduler:
  organizations: [acme]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ANALYTICS_ENGINE_CLUSTERS", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GCP.ProjectID != "finance-prod" || cfg.ModelStore.Backend != StoreBigQuery {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Engine.Clusters != 9 {
		t.Errorf("Clusters = %d, environment should override the file", cfg.Engine.Clusters)
	}
	if len(cfg.Scheduler.Organizations) != 1 || cfg.Scheduler.Organizations[0] != "acme" {
		t.Errorf("Organizations = %v", cfg.Scheduler.Organizations)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:     ServerConfig{Port: 8080},
			ModelStore: ModelStoreConfig{Backend: StoreMemory},
			Engine:     EngineConfig{Threshold: 2.5, Contamination: 0.05},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"gcs without bucket", func(c *Config) { c.ModelStore.Backend = StoreGCS }, true},
		{"gcs with bucket", func(c *Config) { c.ModelStore.Backend = StoreGCS; c.ModelStore.Bucket = "models" }, false},
		{"bigquery without project", func(c *Config) { c.ModelStore.Backend = StoreBigQuery }, true},
		{"mongo without uri", func(c *Config) { c.ModelStore.Backend = StoreMongo }, true},
		{"unknown backend", func(c *Config) { c.ModelStore.Backend = "redis" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"zero threshold", func(c *Config) { c.Engine.Threshold = 0 }, true},
		{"threshold below detector range", func(c *Config) { c.Engine.Threshold = 0.5 }, true},
		{"threshold above detector range", func(c *Config) { c.Engine.Threshold = 5.5 }, true},
		{"threshold at upper bound", func(c *Config) { c.Engine.Threshold = 5 }, false},
		{"NaN threshold", func(c *Config) { c.Engine.Threshold = math.NaN() }, true},
		{"contamination too high", func(c *Config) { c.Engine.Contamination = 0.6 }, true},
		{"NaN contamination", func(c *Config) { c.Engine.Contamination = math.NaN() }, true},
		{"infinite contamination", func(c *Config) { c.Engine.Contamination = math.Inf(1) }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
