package main

import (
	"os"
	"testing"
	"time"

	"github.com/cyra/ippproxyd/internal/proxy"
)

func TestApplyFileConfigLayersOverDefaults(t *testing.T) {
	cfg := proxy.DefaultConfig()
	fileCfg := &ConfigFile{}
	fileCfg.Infrastructure.URI = "ipps://infra.example.com/ipp/system"
	fileCfg.Device.URI = "ipp://printer.local/ipp/print"
	fileCfg.Device.PreferredFormat = "application/pdf"
	fileCfg.Auth.Username = "proxyuser"
	fileCfg.Poll.FloorSeconds = 5
	fileCfg.Poll.CeilingSeconds = 60

	applyFileConfig(&cfg, fileCfg)

	if cfg.InfrastructureURI != "ipps://infra.example.com/ipp/system" {
		t.Errorf("InfrastructureURI = %q", cfg.InfrastructureURI)
	}
	if cfg.DeviceURI != "ipp://printer.local/ipp/print" {
		t.Errorf("DeviceURI = %q", cfg.DeviceURI)
	}
	if cfg.PreferredOutputFormat != "application/pdf" {
		t.Errorf("PreferredOutputFormat = %q", cfg.PreferredOutputFormat)
	}
	if cfg.Username != "proxyuser" {
		t.Errorf("Username = %q", cfg.Username)
	}
	if cfg.PollIntervalFloor != 5*time.Second {
		t.Errorf("PollIntervalFloor = %v, want 5s", cfg.PollIntervalFloor)
	}
	if cfg.PollIntervalCeiling != 60*time.Second {
		t.Errorf("PollIntervalCeiling = %v, want 60s", cfg.PollIntervalCeiling)
	}
}

func TestApplyFileConfigLeavesZeroFieldsUntouched(t *testing.T) {
	cfg := proxy.DefaultConfig()
	cfg.InfrastructureURI = "ipps://already-set.example.com/ipp/print"
	want := cfg.InfrastructureURI

	applyFileConfig(&cfg, &ConfigFile{})

	if cfg.InfrastructureURI != want {
		t.Errorf("InfrastructureURI changed to %q, want untouched %q", cfg.InfrastructureURI, want)
	}
}

func TestEnvPasswordReadsCurrentEnvValue(t *testing.T) {
	const envVar = "IPPPROXYD_TEST_PASSWORD"
	t.Setenv(envVar, "s3cret")

	supplier := envPassword(envVar)
	pw, err := supplier("realm", "resource")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pw != "s3cret" {
		t.Errorf("password = %q, want s3cret", pw)
	}

	os.Setenv(envVar, "rotated")
	pw, err = supplier("realm", "resource")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pw != "rotated" {
		t.Errorf("password after rotation = %q, want rotated (must not cache)", pw)
	}
}

func TestLoadConfigMissingFileReturnsNotExist(t *testing.T) {
	_, err := loadConfig("/nonexistent/ippproxyd.yaml")
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want os.IsNotExist", err)
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ippproxyd.yaml"
	content := []byte("infrastructure:\n  uri: ipps://infra.example.com/ipp/system\nlog:\n  level: debug\n  format: json\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fileCfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if fileCfg.Infrastructure.URI != "ipps://infra.example.com/ipp/system" {
		t.Errorf("Infrastructure.URI = %q", fileCfg.Infrastructure.URI)
	}
	if fileCfg.Log.Level != "debug" || fileCfg.Log.Format != "json" {
		t.Errorf("Log = %+v", fileCfg.Log)
	}
}
