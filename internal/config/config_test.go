package config

import (
	"testing"
	"time"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "test-secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/labpod")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.AppPort != 8080 {
		t.Errorf("AppPort = %d, want 8080", cfg.AppPort)
	}
	if cfg.SessionTTL != 8*time.Hour {
		t.Errorf("SessionTTL = %v, want 8h", cfg.SessionTTL)
	}
	if cfg.ReconcileInterval != 15*time.Second {
		t.Errorf("ReconcileInterval = %v, want 15s", cfg.ReconcileInterval)
	}
	if cfg.ClusterNamespace != "labpod-workspaces" {
		t.Errorf("ClusterNamespace = %q", cfg.ClusterNamespace)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode by default")
	}
}

func TestApplications(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		want    map[string]string
	}{
		{
			name:    "two_entries",
			catalog: "jupyter=ghcr.io/labpod/jupyter:latest, rstudio=ghcr.io/labpod/rstudio:1.2",
			want: map[string]string{
				"jupyter": "ghcr.io/labpod/jupyter:latest",
				"rstudio": "ghcr.io/labpod/rstudio:1.2",
			},
		},
		{
			name:    "malformed_entries_skipped",
			catalog: "jupyter=img:1,,broken,=noid",
			want:    map[string]string{"jupyter": "img:1"},
		},
		{
			name:    "empty",
			catalog: "",
			want:    map[string]string{},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := &Config{ApplicationCatalog: test.catalog}
			got := cfg.Applications()
			if len(got) != len(test.want) {
				t.Fatalf("got %d entries, want %d: %v", len(got), len(test.want), got)
			}
			for id, image := range test.want {
				if got[id] != image {
					t.Errorf("catalog[%q] = %q, want %q", id, got[id], image)
				}
			}
		})
	}
}
