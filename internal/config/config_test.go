package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jiralink.yaml")
	body := `
http_addr: ":9000"
auth_secret: from-file
jira:
  client_id: app-client
  redirect_url: https://example.test/callback
  timeout: 5s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("JIRALINK_AUTH_SECRET", "from-env")
	t.Setenv("JIRALINK_UPSTREAM_TIMEOUT", "7s")
	t.Setenv("JIRALINK_RATE_BURST", "3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.AuthSecret != "from-env" {
		t.Fatalf("env should override file, got %q", cfg.AuthSecret)
	}
	if cfg.Jira.ClientID != "app-client" {
		t.Fatalf("ClientID=%q", cfg.Jira.ClientID)
	}
	if cfg.Jira.Timeout != 7*time.Second {
		t.Fatalf("Timeout=%v", cfg.Jira.Timeout)
	}
	if cfg.RateBurst != 3 {
		t.Fatalf("RateBurst=%d", cfg.RateBurst)
	}
	if cfg.Jira.TokenURL != "https://auth.atlassian.com/oauth/token" {
		t.Fatalf("default token url lost: %q", cfg.Jira.TokenURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("JIRALINK_UPSTREAM_TIMEOUT", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestValidateListsMissingSettings(t *testing.T) {
	err := Defaults().Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"auth_secret", "redirect_url"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
