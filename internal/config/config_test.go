package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without SESSION_SECRET")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionMaxAge != 4*time.Hour {
		t.Errorf("SessionMaxAge = %v, want 4h", cfg.SessionMaxAge)
	}
	if cfg.OIDCUsernameClaim != "urn:dccn:uid" {
		t.Errorf("OIDCUsernameClaim = %q", cfg.OIDCUsernameClaim)
	}
	if cfg.LegacySubstringMatch {
		t.Error("legacy matching should be off by default")
	}
	if cfg.UI.LocalModule != ModuleFS || cfg.UI.RemoteModule != ModuleRDM {
		t.Errorf("unexpected default modules %q/%q", cfg.UI.LocalModule, cfg.UI.RemoteModule)
	}
	if cfg.TLSEnabled() {
		t.Error("TLS should be disabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("SESSION_MAX_AGE", "30m")
	t.Setenv("OIDC_SCOPES", "openid,offline_access profile")
	t.Setenv("JOBS_PER_MINUTE", "12")
	t.Setenv("LEGACY_SUBSTRING_MATCH", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionMaxAge != 30*time.Minute {
		t.Errorf("SessionMaxAge = %v", cfg.SessionMaxAge)
	}
	if len(cfg.OIDCScopes) != 3 || cfg.OIDCScopes[1] != "offline_access" {
		t.Errorf("OIDCScopes = %v", cfg.OIDCScopes)
	}
	if cfg.JobsPerMinute != 12 || !cfg.LegacySubstringMatch {
		t.Errorf("unexpected job settings: %d %v", cfg.JobsPerMinute, cfg.LegacySubstringMatch)
	}
}

func TestLoad_OIDCNeedsClientID(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("OIDC_ISSUER_URL", "https://auth.example.org")
	t.Setenv("OIDC_CLIENT_ID", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for issuer without client id")
	}
}

func TestLoadUI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ui.yml")
	content := `
title: Project Stager
localModule: stager
modules:
  stager:
    rootDir: /project/
    displayName: Project storage
    pathLogin: /stager/login
    pathListDir: /stager/dir
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	ui, err := LoadUI(path)
	if err != nil {
		t.Fatalf("LoadUI: %v", err)
	}
	if ui.Title != "Project Stager" {
		t.Errorf("Title = %q", ui.Title)
	}
	if ui.Helpdesk == "" {
		t.Error("expected default helpdesk to be kept")
	}
	m, ok := ui.Module(ui.LocalModule)
	if !ok || m.RootDir != "/project/" || !m.NeedsLogin() {
		t.Errorf("unexpected local module %+v", m)
	}
	if _, ok := ui.Module(ModuleRDM); !ok {
		t.Error("default rdm module should be kept")
	}
}

func TestLoadUI_UnknownModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ui.yml")
	if err := os.WriteFile(path, []byte("remoteModule: s3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadUI(path); err == nil {
		t.Fatal("expected error for unknown module")
	}
}
